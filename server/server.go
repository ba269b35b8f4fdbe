package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chainswap/storage"
	"chainswap/swap"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	// ReadTimeout/WriteTimeout bound slow clients, not swap timelocks.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server hosts the swap API, health and admin endpoints.
type Server struct {
	cfg       Config
	engine    *swap.Engine
	history   *storage.PriceHistory
	logger    *log.Logger
	adminAuth *Authenticator
	router    http.Handler
}

// New constructs the HTTP server. history may be nil when durable price
// history is disabled; the admin history endpoints then return 404.
func New(cfg Config, engine *swap.Engine, history *storage.PriceHistory, auth *Authenticator, logger *log.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if auth == nil {
		return nil, fmt.Errorf("server: admin authenticator required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	srv := &Server{cfg: cfg, engine: engine, history: history, logger: logger, adminAuth: auth}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured router, primarily for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "chainswap.health"))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/swaps", func(api chi.Router) {
		api.Method(http.MethodPost, "/", otelhttp.NewHandler(http.HandlerFunc(s.handleCreateSwap), "chainswap.create"))
		api.Method(http.MethodGet, "/", otelhttp.NewHandler(http.HandlerFunc(s.handleListSwaps), "chainswap.list"))
		api.Method(http.MethodGet, "/{id}", otelhttp.NewHandler(http.HandlerFunc(s.handleGetSwap), "chainswap.get"))
		api.Method(http.MethodDelete, "/{id}", otelhttp.NewHandler(http.HandlerFunc(s.handleDeleteSwap), "chainswap.delete"))
		api.Method(http.MethodPost, "/{id}/refund", otelhttp.NewHandler(http.HandlerFunc(s.handleRefund), "chainswap.refund"))
		api.Method(http.MethodPost, "/{id}/steps/{index}/execute", otelhttp.NewHandler(http.HandlerFunc(s.handleExecuteStep), "chainswap.step.execute"))
		api.Method(http.MethodPost, "/{id}/steps/{index}/submit", otelhttp.NewHandler(http.HandlerFunc(s.handleSubmitStep), "chainswap.step.submit"))
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.adminAuth.Middleware)
		admin.Method(http.MethodGet, "/gate", otelhttp.NewHandler(http.HandlerFunc(s.handleGateStatus), "chainswap.admin.gate"))
		admin.Method(http.MethodPut, "/gate/threshold", otelhttp.NewHandler(http.HandlerFunc(s.handleThresholdOverride), "chainswap.admin.threshold"))
		admin.Method(http.MethodPost, "/gate/pause", otelhttp.NewHandler(http.HandlerFunc(s.handleGatePause), "chainswap.admin.pause"))
		admin.Method(http.MethodPost, "/swaps/{id}/fail", otelhttp.NewHandler(http.HandlerFunc(s.handleFailSwap), "chainswap.admin.fail"))
		admin.Method(http.MethodGet, "/violations", otelhttp.NewHandler(http.HandlerFunc(s.handleViolations), "chainswap.admin.violations"))
		admin.Method(http.MethodGet, "/samples", otelhttp.NewHandler(http.HandlerFunc(s.handleSamples), "chainswap.admin.samples"))
	})

	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("chainswap: http server listening on %s", s.cfg.ListenAddress)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"gatePaused": s.engine.Gate().Paused(),
	})
}
