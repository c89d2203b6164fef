// SPDX-License-Identifier: MIT

// Package daemon supervises the process lifecycle: it collects fatal
// component errors, waits for the shutdown signal and runs the registered
// cleanup hooks in reverse order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/log"
)

// ErrNotStarted is returned by Shutdown before Run was entered.
var ErrNotStarted = errors.New("daemon manager not started")

// ShutdownHook is a cleanup step executed during graceful shutdown.
// Hooks run in reverse registration order (LIFO), mirroring startup.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the run loop of the daemon. Components started by main
// register their teardown as hooks and report fatal errors on Errors().
type Manager struct {
	logger          zerolog.Logger
	shutdownTimeout time.Duration

	errCh chan error

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool
}

// NewManager creates a manager. shutdownTimeout bounds the whole hook
// chain, not each hook.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Manager{
		logger:          log.WithComponent("daemon"),
		shutdownTimeout: shutdownTimeout,
		errCh:           make(chan error, 8),
	}
}

// Errors is where components deliver fatal failures. The channel is
// buffered; a second failure during shutdown is logged, not lost to a
// blocked sender.
func (m *Manager) Errors() chan<- error { return m.errCh }

// ReportError is the function-valued form of Errors for components that
// take a callback.
func (m *Manager) ReportError(err error) {
	if err == nil {
		return
	}
	select {
	case m.errCh <- err:
	default:
		m.logger.Error().Err(err).Msg("error channel full, dropping")
	}
}

// RegisterShutdownHook appends a cleanup step. Safe to call while Run is
// blocked.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Run blocks until the context is cancelled or a component reports a
// fatal error, then performs shutdown. The shutdown context is detached
// from the (already cancelled) run context but bounded by the timeout.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("daemon manager already running")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().Dur("shutdown_timeout", m.shutdownTimeout).Msg("daemon running")

	select {
	case err := <-m.errCh:
		m.logger.Error().Err(err).Msg("component failed, shutting down")
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		return m.Shutdown(ctx)
	}
}

// Shutdown runs the hook chain LIFO. Idempotent; later calls return nil.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(shutdownCtx); err != nil {
			m.logger.Error().Err(err).
				Str("hook", h.name).
				Dur("elapsed", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("elapsed", time.Since(start)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}
