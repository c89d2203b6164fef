// SPDX-License-Identifier: MIT

// Package api serves the operational HTTP surface: probes, stats,
// subscription listings and Prometheus metrics. It is read-only; all
// state changes happen over SIP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
)

// Deps are the components the HTTP surface reads from. Everything except
// Cfg and Health may be nil; handlers render what is present.
type Deps struct {
	Cfg        *config.AppConfig
	Health     HealthHandler
	Registry   SubscriptionSource
	Dispatcher DispatcherSource
	Reaper     ReaperSource
	Store      StoreSource
	Stack      StackSource
	Presence   PresenceSource
	Router     RouterSource
	Failover   FailoverSource
	Slow       SlowSource
	Index      IndexSource
	Version    string
}

// Server owns the HTTP listener. Concurrent connections are capped with
// a limit listener so a probe storm cannot exhaust file descriptors.
type Server struct {
	logger zerolog.Logger
	cfg    *config.AppConfig
	deps   Deps

	handler http.Handler
	srv     *http.Server
	ln      net.Listener

	startTime time.Time
	running   atomic.Bool
	errCh     chan error
}

// NewServer builds the router. Start binds the listener.
func NewServer(deps Deps) (*Server, error) {
	if deps.Cfg == nil {
		return nil, fmt.Errorf("api: config is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("api: health manager is required")
	}

	s := &Server{
		logger:    log.WithComponent("api"),
		cfg:       deps.Cfg,
		deps:      deps,
		startTime: time.Now(),
		errCh:     make(chan error, 1),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if rps := s.cfg.HTTPRateLimitRPS; rps > 0 {
		r.Use(httprate.Limit(rps, time.Second,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
			}),
		))
	}

	r.Get("/health", s.deps.Health.ServeHealth)
	r.Get("/ready", s.deps.Health.ServeReady)
	r.Get("/stats", s.handleStats)
	r.Get("/stats/workers", s.handleWorkerStats)
	r.Get("/stats/presence", s.handlePresenceStats)
	r.Get("/subscriptions", s.handleSubscriptions)
	r.Get("/config", s.handleConfig)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	var h http.Handler = r
	if s.cfg.TelemetryEnabled {
		h = otelhttp.NewHandler(h, "http.server")
	}
	return h
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener and serves in the background. Listener errors
// after startup surface on Errors().
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("api: server already started")
	}

	addr := net.JoinHostPort(s.cfg.HTTPBindAddress, fmt.Sprintf("%d", s.cfg.HTTPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	if s.cfg.HTTPMaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.HTTPMaxConnections)
	}
	s.ln = ln

	s.srv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.HTTPReadTimeout,
		WriteTimeout: s.cfg.HTTPWriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().
		Str("addr", addr).
		Int("max_connections", s.cfg.HTTPMaxConnections).
		Msg("http server listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case s.errCh <- fmt.Errorf("api: serve: %w", err):
			default:
			}
		}
	}()
	return nil
}

// Errors delivers a fatal serve failure, if any.
func (s *Server) Errors() <-chan error { return s.errCh }

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	s.logger.Info().Msg("http server stopped")
	return err
}
