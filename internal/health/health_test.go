// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	status Status
}

func (c *mockChecker) Name() string                      { return c.name }
func (c *mockChecker) Check(context.Context) CheckResult { return CheckResult{Status: c.status} }

func TestHealthNoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)
}

func TestHealthVerboseAggregates(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "a", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "b", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)

	m.RegisterChecker(&mockChecker{name: "c", status: StatusUnhealthy})
	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyUnhealthyComponentBlocks(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(&mockChecker{name: "dispatcher", status: StatusUnhealthy})
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyDegradedStillReady(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(&mockChecker{name: "presence_feed", status: StatusDegraded})
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeReadyStatusCodes(t *testing.T) {
	m := NewManager("v1")
	gate := NewStartupGate()
	m.RegisterChecker(gate)

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	gate.MarkRecovered()
	gate.MarkDispatcherUp()
	gate.MarkSIPUp()

	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, "startup complete", resp.Checks["startup"].Message)
}

func TestStartupGateOrder(t *testing.T) {
	gate := NewStartupGate()
	assert.Equal(t, StatusUnhealthy, gate.Check(context.Background()).Status)

	gate.MarkRecovered()
	res := gate.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "dispatcher not started", res.Message)

	gate.MarkDispatcherUp()
	gate.MarkSIPUp()
	assert.Equal(t, StatusHealthy, gate.Check(context.Background()).Status)
}

func TestPresenceCheckerDegradesOnly(t *testing.T) {
	up := false
	c := NewPresenceChecker(func() bool { return up })
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
	up = true
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestStoreChecker(t *testing.T) {
	c := NewStoreChecker(false, nil)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c = NewStoreChecker(true, func(context.Context) error { return errors.New("down") })
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "down", res.Error)

	c = NewStoreChecker(true, func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestDispatcherChecker(t *testing.T) {
	started := false
	c := NewDispatcherChecker(func() bool { return started })
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
	started = true
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestServeHealthAlways200(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(&mockChecker{name: "x", status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
}
