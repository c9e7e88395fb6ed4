// Package server exposes the orchestrator over HTTP: the answer/stream
// endpoints, session CRUD, health, and the operator-facing control
// surface. Routing is go-chi/chi; NDJSON streaming writes one
// json.Encoder.Encode line plus a flush per event.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/classifier"
	"github.com/conclave-ai/conclave/pkg/memory"
	"github.com/conclave-ai/conclave/pkg/orchestrator"
	"github.com/conclave-ai/conclave/pkg/prompt"
	"github.com/conclave-ai/conclave/pkg/session"
)

// Config wires the components a Server exposes over HTTP.
type Config struct {
	Addr         string
	Orchestrator *orchestrator.Orchestrator
	Classifier   *classifier.Classifier
	Agents       *agent.Registry
	Memory       *memory.Facade
	Sessions     session.Store
	Prompts      *prompt.Store
	Logger       *slog.Logger
	Version      string
}

// routingConfig mirrors POST /control/routing/config's body; it is recorded
// and reported by /control/status, and the request path does not read it.
type routingConfig struct {
	EnableCollaboration bool   `json:"enable_collaboration"`
	EnableMultiAgent    bool   `json:"enable_multi_agent"`
	RoutingStrategy     string `json:"routing_strategy"`
}

// agentOverride is a per-agent config edit recorded by POST
// /control/agent/config, also kept for /control/status introspection.
// config_type=prompt changes behavior via prompt.Store.SetOverride;
// config_type=keywords changes behavior via classifier.SetKeywords;
// config_type=params is recorded but not yet consulted by any agent.
type agentOverride struct {
	ConfigType string         `json:"config_type"`
	ConfigData map[string]any `json:"config_data"`
}

// pendingRouting is a one-shot routing override recorded by POST
// /control/agent/override, consumed by the next /answer call against the
// same session.
type pendingRouting struct {
	agents   []string
	strategy agent.Strategy
}

type Server struct {
	cfg    Config
	router chi.Router
	http   *http.Server
	log    *slog.Logger

	mu              sync.Mutex
	routing         routingConfig
	agentOverrides  map[string]agentOverride
	pendingBySession map[string]pendingRouting
	agentCounters   map[string]int64
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:              cfg,
		log:              logger,
		routing:          routingConfig{EnableCollaboration: true, EnableMultiAgent: true, RoutingStrategy: "classifier"},
		agentOverrides:   map[string]agentOverride{},
		pendingBySession: map[string]pendingRouting{},
		agentCounters:    map[string]int64{},
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Post("/answer", s.handleAnswer)
	r.Post("/answer/stream", s.handleAnswerStream)

	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)

	r.Route("/control", func(r chi.Router) {
		r.Post("/agent/override", s.handleAgentOverride)
		r.Post("/agent/config", s.handleAgentConfig)
		r.Post("/routing/config", s.handleRoutingConfig)
		r.Post("/memory/manage", s.handleMemoryManage)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ownerOf(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}

func (s *Server) recordContribution(agentName string) {
	s.mu.Lock()
	s.agentCounters[agentName]++
	s.mu.Unlock()
}
