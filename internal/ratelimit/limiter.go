// SPDX-License-Identifier: MIT

// Package ratelimit guards the SIP ingress with token buckets: one
// global bucket for the whole process and one per tenant. Registrations
// and refreshes from a runaway PBX then throttle that tenant without
// starving the rest.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sipevd_sip_ratelimit_rejected_total",
		Help: "SIP requests rejected by the ingress rate limiter",
	},
	[]string{"scope"},
)

// Config holds the bucket parameters.
type Config struct {
	// Global limits across all tenants.
	GlobalRate  rate.Limit
	GlobalBurst int

	// Per-tenant limits.
	TenantRate  rate.Limit
	TenantBurst int

	// Cleanup interval for idle tenant buckets.
	CleanupInterval time.Duration
}

// DefaultConfig sizes the buckets for a mid-size deployment: bursts of
// bulk re-registration pass, sustained floods do not.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  500,
		GlobalBurst: 1000,

		TenantRate:  50,
		TenantBurst: 100,

		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages the global and per-tenant buckets.
type Limiter struct {
	config Config

	global    *rate.Limiter
	perTenant map[string]*rate.Limiter
	mu        sync.Mutex

	lastCleanup time.Time
}

// New creates a limiter with the given config.
func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perTenant:   make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request from the tenant fits the budget.
func (l *Limiter) Allow(tenantID string) bool {
	if !l.global.Allow() {
		rateLimitRejected.WithLabelValues("global").Inc()
		return false
	}

	if !l.tenantLimiter(tenantID).Allow() {
		rateLimitRejected.WithLabelValues("tenant").Inc()
		return false
	}

	l.maybeCleanup()
	return true
}

func (l *Limiter) tenantLimiter(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perTenant[tenantID]
	if !exists {
		limiter = rate.NewLimiter(l.config.TenantRate, l.config.TenantBurst)
		l.perTenant[tenantID] = limiter
	}
	return limiter
}

// maybeCleanup drops all tenant buckets once per interval. Active
// tenants re-create theirs on the next request with a full burst, which
// is acceptable slack at cleanup granularity.
func (l *Limiter) maybeCleanup() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.perTenant = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}
