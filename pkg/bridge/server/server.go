// Package server assembles the voice bridge: HTTP routes, middleware
// chain, call state store, and the per-call orchestration wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/config"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/lifecycle"
	"github.com/leaseline/voicebridge/pkg/bridge/media"
	"github.com/leaseline/voicebridge/pkg/bridge/metrics"
	"github.com/leaseline/voicebridge/pkg/bridge/mw"
	"github.com/leaseline/voicebridge/pkg/bridge/sessions"
	"github.com/leaseline/voicebridge/pkg/bridge/store"
	"github.com/leaseline/voicebridge/pkg/bridge/webhook"
)

// Server is the assembled voice bridge process.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	life    *lifecycle.Lifecycle
	tracker *sessions.Tracker
	metrics *metrics.Metrics

	registry *call.Registry
	hub      *media.Hub
	ingress  *webhook.Ingress
	media    *media.Handler

	httpServer *http.Server
}

// New builds the server from configuration.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var st store.Store
	switch cfg.StoreDriver {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		st = store.NewRedis(client, "voicebridge", cfg.StoreTTL)
	case config.StoreMemory:
		st = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	registry := call.NewRegistry(st)
	gateway := crm.New(cfg.CRMBaseURL, cfg.CRMAPIKey, nil, cfg.CRMTimeout)
	provider := webhook.NewProviderClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, nil, cfg.ProviderTimeout)

	hub := media.NewHub()
	tracker := sessions.NewTracker()
	m := metrics.New("voicebridge")

	orchestrator := NewOrchestrator(cfg, registry, gateway, hub, tracker, m, logger)

	ingress := webhook.NewIngress(cfg.WebhookSecret, cfg.Model, cfg.Voice, cfg.WebhookTolerance,
		registry, gateway, provider, orchestrator, logger, webhook.Hooks{
			Accepted:  m.RecordCallAccepted,
			Duplicate: m.RecordDuplicate,
			Ended:     m.RecordCallEnded,
		})

	return &Server{
		cfg:      cfg,
		logger:   logger,
		life:     &lifecycle.Lifecycle{},
		tracker:  tracker,
		metrics:  m,
		registry: registry,
		hub:      hub,
		ingress:  ingress,
		media:    media.NewHandler(hub, logger),
	}, nil
}

// Handler returns the full HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/call", mw.BodyLimit(s.cfg.MaxBodyBytes)(s.ingress))
	mux.Handle("GET /media-stream", s.media)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.life.IsDraining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, `{"status":"draining"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ready"}`)
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	var handler http.Handler = mux
	handler = mw.Recover(s.logger)(handler)
	handler = mw.AccessLog(s.logger)(handler)
	handler = mw.RequestID(handler)
	return handler
}

// Run serves until ctx ends, then drains: readiness flips, in-flight
// requests finish within the grace period, and live calls are cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "grace", s.cfg.ShutdownGracePeriod)
	s.life.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	cancelled := s.tracker.CancelAll()
	if cancelled > 0 {
		s.logger.Info("cancelling live calls", "count", cancelled)
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancelDrain()
	if !s.tracker.Wait(drainCtx) {
		s.logger.Warn("calls still live at shutdown deadline", "count", s.tracker.Count())
	}
	return nil
}

// Lifecycle exposes drain state for tests and external health tooling.
func (s *Server) Lifecycle() *lifecycle.Lifecycle {
	return s.life
}

// Registry exposes the call registry. Intended for tests.
func (s *Server) Registry() *call.Registry {
	return s.registry
}
