// Package api serves the bridge operations over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/aobridge/internal/auth"
	"github.com/mattjoyce/aobridge/internal/config"
	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/state"
)

// Dispatcher runs bridge commands. Implemented by *dispatch.Client.
type Dispatcher interface {
	Execute(ctx context.Context, cmd protocol.Command) (*protocol.Result, error)
}

// ProcessBook lists locally known processes. Implemented by *state.Book.
type ProcessBook interface {
	ListProcesses(ctx context.Context) ([]*state.Process, error)
	Messages(ctx context.Context, processID string) ([]*state.Message, error)
	Current(ctx context.Context) (string, error)
}

// InvocationJournal reads recorded invocations. Implemented by *journal.Journal.
type InvocationJournal interface {
	Get(ctx context.Context, id string) (*journal.Entry, error)
	List(ctx context.Context, f journal.Filter) ([]*journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens  []config.TokenConfig
	Version string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	dispatch  Dispatcher
	book      ProcessBook
	journal   InvocationJournal
	metrics   http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. metrics may be nil to disable /metrics.
func New(cfg Config, dispatcher Dispatcher, book ProcessBook, j InvocationJournal, metrics http.Handler, logger *slog.Logger) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{
		config:    cfg,
		dispatch:  dispatcher,
		book:      book,
		journal:   j,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // worker invocations can run for minutes
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		rw := r.With(s.requireScopes(auth.ScopeLedgerRW))
		ro := r.With(s.requireScopes(auth.ScopeLedgerRO))

		rw.Post("/wallets", s.handleCreateWallet)
		ro.Get("/processes", s.handleListProcesses)
		rw.Post("/processes", s.handleSpawn)
		ro.Get("/processes/{processID}/messages", s.handleListMessages)
		rw.Post("/processes/{processID}/messages", s.handleSendMessage)
		ro.Get("/processes/{processID}/results", s.handleResults)
		ro.Get("/processes/{processID}/results/{messageID}", s.handleSingleResult)
		ro.Post("/processes/{processID}/dryrun", s.handleDryrun)

		r.With(s.requireScopes(auth.ScopeJournalRO)).Get("/invocations", s.handleListInvocations)
		r.With(s.requireScopes(auth.ScopeJournalRO)).Get("/invocations/{invocationID}", s.handleGetInvocation)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
