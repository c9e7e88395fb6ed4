// Command conclave starts the multi-agent query orchestrator's HTTP
// server: it wires the session store, layered memory, agent registry,
// classifier, decomposer, executor, and aggregator from the process
// environment, then blocks serving requests until a shutdown signal
// arrives.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/aggregator"
	"github.com/conclave-ai/conclave/pkg/classifier"
	"github.com/conclave-ai/conclave/pkg/config"
	"github.com/conclave-ai/conclave/pkg/decomposer"
	"github.com/conclave-ai/conclave/pkg/executor"
	"github.com/conclave-ai/conclave/pkg/logger"
	"github.com/conclave-ai/conclave/pkg/memory"
	"github.com/conclave-ai/conclave/pkg/memory/docstore"
	"github.com/conclave-ai/conclave/pkg/memory/embedder"
	"github.com/conclave-ai/conclave/pkg/memory/relmemory"
	"github.com/conclave-ai/conclave/pkg/memory/vectorstore"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/model/anthropic"
	"github.com/conclave-ai/conclave/pkg/model/openai"
	"github.com/conclave-ai/conclave/pkg/orchestrator"
	"github.com/conclave-ai/conclave/pkg/prompt"
	"github.com/conclave-ai/conclave/pkg/relstore"
	"github.com/conclave-ai/conclave/pkg/server"
	"github.com/conclave-ai/conclave/pkg/session"
)

type CLI struct {
	Serve    ServeCmd    `cmd:"" default:"1" help:"Start the orchestrator's HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Load configuration and report any errors, without starting a server."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
	PromptDir string `help:"Directory of operator prompt overrides, watched for hot reload." type:"path"`
}

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cli.LogFormat)
	log := logger.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("conclave: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	srv, err := build(ctx, cfg, cli, log)
	if err != nil {
		return fmt.Errorf("conclave: %w", err)
	}

	return srv.Start(ctx)
}

type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("conclave: validate: %w", err)
	}
	fmt.Printf("configuration ok: model=%s listen=%s session_store=%s\n", cfg.ModelID, cfg.ListenAddr, cfg.SessionStoreURL)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli, kong.Name("conclave"), kong.Description("multi-agent query orchestrator"))
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// storeURL is the {driver}://{dsn} shape both SESSION_STORE_URL and
// MEMORY_STORE_URL use; "memory://" selects the zero-dependency in-process
// store instead of opening a database connection.
func storeURL(raw string) (driver, dsn string) {
	const memPrefix = "memory://"
	if raw == "" || raw == memPrefix {
		return "memory", ""
	}
	for _, prefix := range []string{"sqlite://", "sqlite3://"} {
		if len(raw) > len(prefix) && raw[:len(prefix)] == prefix {
			return string(relstore.DriverSQLite), raw[len(prefix):]
		}
	}
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(raw) >= len(prefix) && raw[:len(prefix)] == prefix {
			return string(relstore.DriverPostgres), raw
		}
	}
	return "memory", ""
}

func openRelational(rawURL string) (*sql.DB, relstore.Driver, error) {
	driver, dsn := storeURL(rawURL)
	if driver == "memory" {
		return nil, "", nil
	}
	d := relstore.Driver(driver)
	db, err := relstore.Open(d, dsn)
	if err != nil {
		return nil, "", err
	}
	if err := relstore.Migrate(db, d); err != nil {
		return nil, "", err
	}
	return db, d, nil
}

func build(ctx context.Context, cfg *config.Config, cli *CLI, log *slog.Logger) (*server.Server, error) {
	sessionDB, _, err := openRelational(cfg.SessionStoreURL)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	var sessions session.Store
	if sessionDB != nil {
		sessions = session.NewSQLStore(sessionDB)
	} else {
		sessions = session.NewMemStore()
	}

	memDB, _, err := openRelational(cfg.MemoryStoreURL)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	var relational relmemory.Store
	if memDB != nil {
		relational = relmemory.NewSQLStore(memDB)
	}

	vector, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{PersistPath: ".conclave/vector"})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	var embed embedder.Provider
	if cfg.EmbeddingAPIKey != "" {
		embed, err = embedder.NewOpenAIProvider(embedder.OpenAIConfig{
			APIKey: cfg.EmbeddingAPIKey, BaseURL: cfg.EmbeddingBaseURL, Model: cfg.EmbeddingModelID,
		})
		if err != nil {
			return nil, fmt.Errorf("open embedder: %w", err)
		}
	}

	memFacade, err := memory.New(memory.Config{
		Vector: vector, Embedder: embed, Documents: docstore.New(),
		Relational: relational, Sessions: sessions, Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("build memory facade: %w", err)
	}

	provider, err := buildModelProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("build model provider: %w", err)
	}
	gateway := model.New(provider, model.DefaultRetryPolicy())

	prompts, err := prompt.New(prompt.Defaults())
	if err != nil {
		return nil, fmt.Errorf("build prompt store: %w", err)
	}
	if cli.PromptDir != "" {
		overrides, err := prompt.New(prompt.Defaults(), prompt.DirSource{Root: cli.PromptDir})
		if err != nil {
			return nil, fmt.Errorf("build prompt store with overrides: %w", err)
		}
		prompts = overrides
		if err := prompts.Watch(ctx, cli.PromptDir); err != nil {
			return nil, fmt.Errorf("watch prompt overrides: %w", err)
		}
	}

	agentParams := model.Params{ModelID: cfg.ModelID, MaxTokens: cfg.ModelMaxTokens, Temperature: cfg.ModelTemperature, AttemptBudget: 2}
	registry := agent.NewRegistry()
	for name, ctor := range map[string]func(model.Gateway, *prompt.Store, model.Params) (*agent.Base, error){
		"researcher": agent.NewResearcher,
		"engineer":   agent.NewEngineer,
		"ethicist":   agent.NewEthicist,
	} {
		a, err := ctor(gateway, prompts, agentParams)
		if err != nil {
			return nil, fmt.Errorf("build agent %s: %w", name, err)
		}
		if err := registry.Register(name, a); err != nil {
			return nil, fmt.Errorf("register agent %s: %w", name, err)
		}
	}

	classify := classifier.New(gateway, prompts, registry, classifier.Params{ModelID: cfg.ModelID})
	decompose := decomposer.New(gateway, prompts, decomposer.Params{ModelID: cfg.ModelID})
	exec := executor.New(executor.Config{Concurrency: cfg.MaxConcurrentAgents, PerTaskTimeout: cfg.AgentTimeout()})
	aggregate := aggregator.New(gateway, prompts, aggregator.Params{ModelID: cfg.ModelID})

	orch := orchestrator.New(orchestrator.Config{
		Sessions: sessions, Memory: memFacade, Agents: registry,
		Classifier: classify, Decomposer: decompose, Executor: exec, Aggregator: aggregate,
	})

	log.Info("conclave ready", "listen", cfg.ListenAddr, "model", cfg.ModelID)

	return server.New(server.Config{
		Addr: cfg.ListenAddr, Orchestrator: orch, Classifier: classify, Agents: registry,
		Memory: memFacade, Sessions: sessions, Prompts: prompts, Logger: log,
	}), nil
}

func buildModelProvider(cfg *config.Config) (model.Provider, error) {
	if cfg.ModelID != "" && isAnthropicModel(cfg.ModelID) {
		return anthropic.New(anthropic.Config{APIKey: cfg.ModelAPIKey, BaseURL: cfg.ModelBaseURL, DefaultModel: cfg.ModelID})
	}
	return openai.New(openai.Config{APIKey: cfg.ModelAPIKey, BaseURL: cfg.ModelBaseURL, DefaultModel: cfg.ModelID})
}

func isAnthropicModel(id string) bool {
	return len(id) >= 6 && id[:6] == "claude"
}
