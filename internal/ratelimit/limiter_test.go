// SPDX-License-Identifier: MIT

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiterGlobal(t *testing.T) {
	config := Config{
		GlobalRate:      10,
		GlobalBurst:     20,
		TenantRate:      1000,
		TenantBurst:     2000,
		CleanupInterval: time.Minute,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 25; i++ {
		if limiter.Allow("tenant-a") {
			allowed++
		}
	}

	// Burst is 20; refill during the loop may admit one more.
	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 requests with burst=20, got %d", allowed)
	}
}

func TestLimiterPerTenant(t *testing.T) {
	config := Config{
		GlobalRate:      1000,
		GlobalBurst:     2000,
		TenantRate:      5,
		TenantBurst:     10,
		CleanupInterval: time.Minute,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 15; i++ {
		if limiter.Allow("tenant-a") {
			allowed++
		}
	}
	if allowed < 9 || allowed > 11 {
		t.Errorf("expected ~10 requests for throttled tenant, got %d", allowed)
	}

	// A different tenant has its own bucket.
	if !limiter.Allow("tenant-b") {
		t.Error("independent tenant should not be throttled")
	}
}

func TestLimiterTenantIsolation(t *testing.T) {
	config := Config{
		GlobalRate:      1000,
		GlobalBurst:     2000,
		TenantRate:      2,
		TenantBurst:     2,
		CleanupInterval: time.Minute,
	}
	limiter := New(config)

	// Exhaust tenant-a.
	limiter.Allow("tenant-a")
	limiter.Allow("tenant-a")
	if limiter.Allow("tenant-a") {
		t.Error("tenant-a should be exhausted")
	}

	for i := 0; i < 2; i++ {
		if !limiter.Allow("tenant-b") {
			t.Errorf("tenant-b request %d should pass", i)
		}
	}
}

func TestLimiterCleanup(t *testing.T) {
	config := Config{
		GlobalRate:      rate.Inf,
		GlobalBurst:     1,
		TenantRate:      100,
		TenantBurst:     100,
		CleanupInterval: 10 * time.Millisecond,
	}
	limiter := New(config)

	for i := 0; i < 50; i++ {
		limiter.Allow(fmt.Sprintf("tenant-%d", i))
	}

	time.Sleep(20 * time.Millisecond)
	limiter.Allow("tenant-after")

	limiter.mu.Lock()
	n := len(limiter.perTenant)
	limiter.mu.Unlock()
	if n > 1 {
		t.Errorf("expected stale tenant buckets to be dropped, still have %d", n)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GlobalRate <= cfg.TenantRate {
		t.Error("global rate should exceed per-tenant rate")
	}
	if cfg.CleanupInterval <= 0 {
		t.Error("cleanup interval must be positive")
	}
}
