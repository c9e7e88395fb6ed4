// Package config loads the orchestrator's flat environment-variable
// configuration. Values are read via koanf's env provider after an
// optional .env file has been loaded into the process environment, the
// same two-stage pattern used elsewhere in this codebase's ancestry.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every environment-variable knob spec.md §6 recognizes.
type Config struct {
	ModelBaseURL    string `koanf:"MODEL_BASE_URL"`
	ModelAPIKey     string `koanf:"MODEL_API_KEY"`
	ModelID         string `koanf:"MODEL_ID"`
	ModelMaxTokens  int    `koanf:"MODEL_MAX_TOKENS"`
	ModelTemperature float64 `koanf:"MODEL_TEMPERATURE"`

	EmbeddingBaseURL  string `koanf:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey   string `koanf:"EMBEDDING_API_KEY"`
	EmbeddingModelID  string `koanf:"EMBEDDING_MODEL_ID"`
	EmbeddingDimension int   `koanf:"EMBEDDING_DIMENSION"`

	SessionStoreURL string `koanf:"SESSION_STORE_URL"`
	MemoryStoreURL  string `koanf:"MEMORY_STORE_URL"`

	RequestTimeoutS    int `koanf:"REQUEST_TIMEOUT_S"`
	AgentTimeoutS      int `koanf:"AGENT_TIMEOUT_S"`
	MaxConcurrentAgents int `koanf:"MAX_CONCURRENT_AGENTS"`

	ListenAddr string `koanf:"LISTEN_ADDR"`
}

// RequestTimeout and AgentTimeout convert the integer-seconds knobs into
// time.Duration for callers; SetDefaults makes them 60s (request) and 30s
// (agent).
func (c Config) RequestTimeout() time.Duration { return time.Duration(c.RequestTimeoutS) * time.Second }
func (c Config) AgentTimeout() time.Duration   { return time.Duration(c.AgentTimeoutS) * time.Second }

// Load reads .env/.env.local (if present) into the process environment,
// optionally layers a YAML file named by CONFIG_FILE underneath, then
// overlays environment variables on top — env always wins, matching
// spec.md §6's "consumed from environment" framing while still letting an
// operator check in a base config.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	cfg.SetDefaults()

	for _, key := range k.Keys() {
		applyEnvKey(cfg, key, k.String(key))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvFiles loads .env.local (highest priority) then .env; missing
// files are not an error.
func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// SetDefaults fills unset knobs: request timeout 60s and agent timeout 30s
// (the caller passes AgentTimeout to executor.Config.PerTaskTimeout).
// MaxConcurrentAgents is left at 0, which the executor treats as "one
// slot per dispatched agent".
func (c *Config) SetDefaults() {
	if c.ModelMaxTokens == 0 {
		c.ModelMaxTokens = 2048
	}
	if c.EmbeddingModelID == "" {
		c.EmbeddingModelID = "text-embedding-3-small"
	}
	if c.EmbeddingDimension == 0 {
		c.EmbeddingDimension = 1536
	}
	if c.RequestTimeoutS == 0 {
		c.RequestTimeoutS = 60
	}
	if c.AgentTimeoutS == 0 {
		c.AgentTimeoutS = 30
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

func (c *Config) Validate() error {
	if c.ModelAPIKey == "" {
		return fmt.Errorf("MODEL_API_KEY is required")
	}
	if c.SessionStoreURL == "" {
		return fmt.Errorf("SESSION_STORE_URL is required")
	}
	return nil
}

// applyEnvKey assigns k's string value into the matching Config field.
// A small hand-rolled switch rather than reflection-based unmarshaling:
// the field set is small, fixed, and flat, so koanf's UnmarshalWithConf
// struct-tag machinery would add an indirection this doesn't need.
func applyEnvKey(cfg *Config, key, value string) {
	switch strings.ToUpper(key) {
	case "MODEL_BASE_URL":
		cfg.ModelBaseURL = value
	case "MODEL_API_KEY":
		cfg.ModelAPIKey = value
	case "MODEL_ID":
		cfg.ModelID = value
	case "MODEL_MAX_TOKENS":
		cfg.ModelMaxTokens = atoiOr(value, cfg.ModelMaxTokens)
	case "MODEL_TEMPERATURE":
		cfg.ModelTemperature = atofOr(value, cfg.ModelTemperature)
	case "EMBEDDING_BASE_URL":
		cfg.EmbeddingBaseURL = value
	case "EMBEDDING_API_KEY":
		cfg.EmbeddingAPIKey = value
	case "EMBEDDING_MODEL_ID":
		cfg.EmbeddingModelID = value
	case "EMBEDDING_DIMENSION":
		cfg.EmbeddingDimension = atoiOr(value, cfg.EmbeddingDimension)
	case "SESSION_STORE_URL":
		cfg.SessionStoreURL = value
	case "MEMORY_STORE_URL":
		cfg.MemoryStoreURL = value
	case "REQUEST_TIMEOUT_S":
		cfg.RequestTimeoutS = atoiOr(value, cfg.RequestTimeoutS)
	case "AGENT_TIMEOUT_S":
		cfg.AgentTimeoutS = atoiOr(value, cfg.AgentTimeoutS)
	case "MAX_CONCURRENT_AGENTS":
		cfg.MaxConcurrentAgents = atoiOr(value, cfg.MaxConcurrentAgents)
	case "LISTEN_ADDR":
		cfg.ListenAddr = value
	}
}

func atoiOr(s string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func atofOr(s string, fallback float64) float64 {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return fallback
	}
	return f
}
