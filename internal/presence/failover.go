// SPDX-License-Identifier: MIT
package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
)

// Strategy selects how the failover manager picks the next feed server.
type Strategy uint8

const (
	StrategyRoundRobin Strategy = iota
	StrategyPriority
	StrategyRandom
)

func (s Strategy) String() string {
	switch s {
	case StrategyPriority:
		return "priority"
	case StrategyRandom:
		return "random"
	default:
		return "round_robin"
	}
}

// ParseStrategy maps a config string to a strategy, defaulting to
// round-robin on unknown input.
func ParseStrategy(s string) Strategy {
	switch s {
	case "priority":
		return StrategyPriority
	case "random":
		return StrategyRandom
	default:
		return StrategyRoundRobin
	}
}

// Endpoint is one feed server.
type Endpoint struct {
	Host     string
	Port     int
	Priority int
}

func (e Endpoint) Addr() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }
func (e Endpoint) IsZero() bool { return e.Host == "" }

// ServerHealth is the tracked state of one endpoint.
type ServerHealth struct {
	Endpoint            Endpoint
	Healthy             bool
	ConsecutiveFailures int
	TotalSuccesses      uint64
	TotalFailures       uint64
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
	CooldownUntil       time.Time
}

func (h *ServerHealth) inCooldown(now time.Time) bool {
	return !h.CooldownUntil.IsZero() && now.Before(h.CooldownUntil)
}

// unhealthyAfter is the consecutive failure count at which an endpoint is
// demoted; cooldownCapMultiplier caps the progressive cooldown growth.
const (
	unhealthyAfter        = 3
	cooldownCapMultiplier = 5
)

// FailoverManager tracks feed server health and picks connection targets.
// Safe for concurrent use: the TCP client reports outcomes while the HTTP
// stats handler reads health snapshots.
type FailoverManager struct {
	logger   zerolog.Logger
	strategy Strategy
	cooldown time.Duration

	mu      sync.Mutex
	servers []ServerHealth
	rrIndex int
}

// NewFailoverManager builds a manager over the configured feed servers.
func NewFailoverManager(cfg *config.AppConfig) *FailoverManager {
	m := &FailoverManager{
		logger:   log.WithComponent("presence_failover"),
		strategy: ParseStrategy(cfg.PresenceFailoverStrategy),
		cooldown: cfg.PresenceServerCooldown,
	}
	for _, srv := range cfg.PresenceServers {
		m.servers = append(m.servers, ServerHealth{
			Endpoint: Endpoint{Host: srv.Host, Port: srv.Port, Priority: srv.Priority},
			Healthy:  true,
		})
	}
	m.logger.Info().
		Int("servers", len(m.servers)).
		Str(log.FieldStrategy, m.strategy.String()).
		Msg("failover manager initialized")
	return m
}

// NextServer picks the endpoint to connect to. When every server is in
// cooldown it forces the one whose cooldown expires soonest rather than
// giving up; a zero endpoint means no servers are configured at all.
func (m *FailoverManager) NextServer() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.servers) == 0 {
		return Endpoint{}
	}
	now := time.Now()

	idx := -1
	switch m.strategy {
	case StrategyPriority:
		idx = m.selectPriority(now)
	case StrategyRandom:
		idx = m.selectRandom(now)
	default:
		idx = m.selectRoundRobin(now)
	}

	if idx < 0 {
		earliest := time.Time{}
		for i := range m.servers {
			if idx < 0 || m.servers[i].CooldownUntil.Before(earliest) {
				earliest = m.servers[i].CooldownUntil
				idx = i
			}
		}
		m.logger.Warn().
			Str(log.FieldEndpoint, m.servers[idx].Endpoint.Addr()).
			Msg("all servers in cooldown, forcing soonest")
	}

	m.servers[idx].LastAttempt = now
	m.logger.Info().
		Str(log.FieldEndpoint, m.servers[idx].Endpoint.Addr()).
		Int("failures", m.servers[idx].ConsecutiveFailures).
		Msg("selected feed server")
	return m.servers[idx].Endpoint
}

func (m *FailoverManager) selectRoundRobin(now time.Time) int {
	n := len(m.servers)
	for _, healthyOnly := range []bool{true, false} {
		for i := 0; i < n; i++ {
			idx := (m.rrIndex + i) % n
			if m.servers[idx].inCooldown(now) {
				continue
			}
			if healthyOnly && !m.servers[idx].Healthy {
				continue
			}
			m.rrIndex = (idx + 1) % n
			return idx
		}
	}
	return -1
}

func (m *FailoverManager) selectPriority(now time.Time) int {
	best := -1
	for i := range m.servers {
		if m.servers[i].inCooldown(now) {
			continue
		}
		if best < 0 || m.servers[i].Endpoint.Priority < m.servers[best].Endpoint.Priority {
			best = i
		}
	}
	return best
}

func (m *FailoverManager) selectRandom(now time.Time) int {
	var available []int
	for _, healthyOnly := range []bool{true, false} {
		for i := range m.servers {
			if m.servers[i].inCooldown(now) {
				continue
			}
			if healthyOnly && !m.servers[i].Healthy {
				continue
			}
			available = append(available, i)
		}
		if len(available) > 0 {
			break
		}
	}
	if len(available) == 0 {
		return -1
	}
	return available[rand.Intn(len(available))]
}

// ReportSuccess resets an endpoint's failure tracking after a working
// connection.
func (m *FailoverManager) ReportSuccess(ep Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(ep)
	if h == nil {
		return
	}
	h.Healthy = true
	h.ConsecutiveFailures = 0
	h.TotalSuccesses++
	h.LastSuccess = time.Now()
	h.CooldownUntil = time.Time{}
	m.logger.Info().
		Str(log.FieldEndpoint, ep.Addr()).
		Uint64("total_ok", h.TotalSuccesses).
		Msg("feed server healthy")
}

// ReportFailure records a failed connection or disconnect and applies a
// progressive cooldown: base cooldown times the consecutive failure count,
// capped.
func (m *FailoverManager) ReportFailure(ep Endpoint, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.find(ep)
	if h == nil {
		return
	}
	h.ConsecutiveFailures++
	h.TotalFailures++
	h.LastFailure = time.Now()

	multiplier := h.ConsecutiveFailures
	if multiplier > cooldownCapMultiplier {
		multiplier = cooldownCapMultiplier
	}
	cooldown := m.cooldown * time.Duration(multiplier)
	h.CooldownUntil = time.Now().Add(cooldown)

	if h.ConsecutiveFailures >= unhealthyAfter {
		h.Healthy = false
	}
	metrics.IncFailoverFailure(ep.Addr())

	m.logger.Warn().
		Str(log.FieldEndpoint, ep.Addr()).
		Int("failures", h.ConsecutiveFailures).
		Str("reason", reason).
		Dur("cooldown", cooldown).
		Msg("feed server failure")
}

// Health returns a snapshot of every tracked endpoint.
func (m *FailoverManager) Health() []ServerHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ServerHealth, len(m.servers))
	copy(out, m.servers)
	return out
}

// AnyAvailable reports whether at least one endpoint is out of cooldown.
func (m *FailoverManager) AnyAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.servers {
		if !m.servers[i].inCooldown(now) {
			return true
		}
	}
	return false
}

// HealthyCount returns the number of endpoints currently marked healthy.
func (m *FailoverManager) HealthyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.servers {
		if m.servers[i].Healthy {
			n++
		}
	}
	return n
}

// ResetAll clears health tracking, used by the admin surface after a feed
// maintenance window.
func (m *FailoverManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.servers {
		m.servers[i].Healthy = true
		m.servers[i].ConsecutiveFailures = 0
		m.servers[i].CooldownUntil = time.Time{}
	}
}

func (m *FailoverManager) find(ep Endpoint) *ServerHealth {
	for i := range m.servers {
		if m.servers[i].Endpoint.Host == ep.Host && m.servers[i].Endpoint.Port == ep.Port {
			return &m.servers[i]
		}
	}
	return nil
}
