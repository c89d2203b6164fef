// SPDX-License-Identifier: MIT
package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Badareenadh/sip-event-processor/internal/config"
)

func testFailoverConfig(strategy string) *config.AppConfig {
	return &config.AppConfig{
		PresenceServers: []config.PresenceServer{
			{Host: "feed-a", Port: 9000, Priority: 1},
			{Host: "feed-b", Port: 9000, Priority: 2},
			{Host: "feed-c", Port: 9000, Priority: 3},
		},
		PresenceFailoverStrategy: strategy,
		PresenceServerCooldown:   30 * time.Second,
	}
}

func TestFailoverRoundRobinCycles(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("round_robin"))

	first := m.NextServer()
	second := m.NextServer()
	third := m.NextServer()
	fourth := m.NextServer()

	assert.NotEqual(t, first.Host, second.Host)
	assert.NotEqual(t, second.Host, third.Host)
	assert.Equal(t, first.Host, fourth.Host, "wraps around")
}

func TestFailoverPriorityPrefersLowest(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("priority"))

	ep := m.NextServer()
	assert.Equal(t, "feed-a", ep.Host)

	// Primary fails: next pick skips it while it cools down.
	m.ReportFailure(ep, "connect refused")
	ep = m.NextServer()
	assert.Equal(t, "feed-b", ep.Host)

	// Recovery clears the cooldown and priority wins again.
	m.ReportSuccess(Endpoint{Host: "feed-a", Port: 9000, Priority: 1})
	ep = m.NextServer()
	assert.Equal(t, "feed-a", ep.Host)
}

func TestFailoverProgressiveCooldownAndDemotion(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("priority"))
	ep := Endpoint{Host: "feed-a", Port: 9000, Priority: 1}

	for i := 0; i < unhealthyAfter; i++ {
		m.ReportFailure(ep, "timeout")
	}

	var health ServerHealth
	for _, h := range m.Health() {
		if h.Endpoint.Host == "feed-a" {
			health = h
		}
	}
	assert.False(t, health.Healthy, "demoted at three consecutive failures")
	assert.Equal(t, unhealthyAfter, health.ConsecutiveFailures)

	// Third failure carries a tripled cooldown.
	remaining := time.Until(health.CooldownUntil)
	assert.Greater(t, remaining, 80*time.Second)
	assert.LessOrEqual(t, remaining, 90*time.Second)
}

func TestFailoverCooldownMultiplierCapped(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("priority"))
	ep := Endpoint{Host: "feed-a", Port: 9000, Priority: 1}

	for i := 0; i < 10; i++ {
		m.ReportFailure(ep, "timeout")
	}
	var health ServerHealth
	for _, h := range m.Health() {
		if h.Endpoint.Host == "feed-a" {
			health = h
		}
	}
	assert.LessOrEqual(t, time.Until(health.CooldownUntil),
		time.Duration(cooldownCapMultiplier)*30*time.Second)
}

func TestFailoverAllInCooldownForcesSoonest(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("round_robin"))
	for _, host := range []string{"feed-a", "feed-b", "feed-c"} {
		m.ReportFailure(Endpoint{Host: host, Port: 9000}, "down")
	}
	assert.False(t, m.AnyAvailable())

	ep := m.NextServer()
	require.False(t, ep.IsZero(), "must still return a server when all cool down")
}

func TestFailoverRandomStaysInPool(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("random"))
	hosts := map[string]bool{"feed-a": true, "feed-b": true, "feed-c": true}
	for i := 0; i < 20; i++ {
		ep := m.NextServer()
		assert.True(t, hosts[ep.Host], "unexpected host %q", ep.Host)
	}
}

func TestFailoverNoServers(t *testing.T) {
	m := NewFailoverManager(&config.AppConfig{PresenceServerCooldown: time.Second})
	assert.True(t, m.NextServer().IsZero())
	assert.Zero(t, m.HealthyCount())
}

func TestFailoverResetAll(t *testing.T) {
	m := NewFailoverManager(testFailoverConfig("priority"))
	for i := 0; i < 5; i++ {
		m.ReportFailure(Endpoint{Host: "feed-a", Port: 9000}, "down")
	}
	assert.Equal(t, 2, m.HealthyCount())

	m.ResetAll()
	assert.Equal(t, 3, m.HealthyCount())
	assert.True(t, m.AnyAvailable())
	assert.Equal(t, "feed-a", m.NextServer().Host)
}
