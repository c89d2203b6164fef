// SPDX-License-Identifier: MIT
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/dispatch"
	"github.com/Badareenadh/sip-event-processor/internal/presence"
	"github.com/Badareenadh/sip-event-processor/internal/sipstack"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/store"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// maxSubscriptionList caps the /subscriptions payload. Large tenants get
// a truncated listing with a flag, not an unbounded response.
const maxSubscriptionList = 1000

// HealthHandler is the probe surface, implemented by health.Manager.
type HealthHandler interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// SubscriptionSource is the registry readout, implemented by
// subscription.Registry.
type SubscriptionSource interface {
	TotalCount() int
	TenantCount() int
	CountByLifecycle() map[string]int
	All() []subscription.Info
	TenantSubscriptions(tenantID string) []subscription.Info
}

// DispatcherSource exposes worker pool counters.
type DispatcherSource interface {
	Stats() dispatch.AggregateStats
	WorkerStats() []dispatch.WorkerStats
}

// ReaperSource exposes expiry sweep counters.
type ReaperSource interface {
	Stats() dispatch.ReaperStats
}

// StoreSource exposes persistence counters.
type StoreSource interface {
	Stats() store.StoreStats
}

// StackSource exposes SIP transaction counters.
type StackSource interface {
	Stats() sipstack.Stats
}

// PresenceSource exposes feed client counters.
type PresenceSource interface {
	Stats() presence.ClientStats
}

// RouterSource exposes presence routing counters.
type RouterSource interface {
	Stats() presence.RouterStats
}

// FailoverSource exposes per-endpoint feed health.
type FailoverSource interface {
	Health() []presence.ServerHealth
}

// SlowSource exposes processing latency counters.
type SlowSource interface {
	Snapshot() slowlog.Stats
}

// IndexSource exposes BLF watcher index sizes.
type IndexSource interface {
	MonitoredURICount() int
	TotalWatcherCount() int
}

type statsResponse struct {
	Service       string                    `json:"service"`
	Instance      string                    `json:"instance,omitempty"`
	Version       string                    `json:"version,omitempty"`
	UptimeSeconds int64                     `json:"uptime_s"`
	Dispatcher    *dispatch.AggregateStats  `json:"dispatcher,omitempty"`
	Reaper        *dispatch.ReaperStats     `json:"reaper,omitempty"`
	SIP           *sipstack.Stats           `json:"sip,omitempty"`
	Store         *store.StoreStats         `json:"store,omitempty"`
	Presence      *presence.ClientStats     `json:"presence,omitempty"`
	Router        *presence.RouterStats     `json:"presence_router,omitempty"`
	SlowLog       *slowlog.Stats            `json:"slowlog,omitempty"`
	Subscriptions *subscriptionStatsSummary `json:"subscriptions,omitempty"`
	BLFIndex      *blfIndexSummary          `json:"blf_index,omitempty"`
}

type blfIndexSummary struct {
	MonitoredURIs int `json:"monitored_uris"`
	Watchers      int `json:"watchers"`
}

type subscriptionStatsSummary struct {
	Total       int            `json:"total"`
	Tenants     int            `json:"tenants"`
	ByLifecycle map[string]int `json:"by_lifecycle"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Service:       s.cfg.ServiceID,
		Instance:      s.cfg.InstanceName,
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if d := s.deps.Dispatcher; d != nil {
		st := d.Stats()
		resp.Dispatcher = &st
	}
	if rp := s.deps.Reaper; rp != nil {
		st := rp.Stats()
		resp.Reaper = &st
	}
	if st := s.deps.Stack; st != nil {
		v := st.Stats()
		resp.SIP = &v
	}
	if st := s.deps.Store; st != nil {
		v := st.Stats()
		resp.Store = &v
	}
	if p := s.deps.Presence; p != nil {
		v := p.Stats()
		resp.Presence = &v
	}
	if rt := s.deps.Router; rt != nil {
		v := rt.Stats()
		resp.Router = &v
	}
	if sl := s.deps.Slow; sl != nil {
		v := sl.Snapshot()
		resp.SlowLog = &v
	}
	if idx := s.deps.Index; idx != nil {
		resp.BLFIndex = &blfIndexSummary{
			MonitoredURIs: idx.MonitoredURICount(),
			Watchers:      idx.TotalWatcherCount(),
		}
	}
	if reg := s.deps.Registry; reg != nil {
		resp.Subscriptions = &subscriptionStatsSummary{
			Total:       reg.TotalCount(),
			Tenants:     reg.TenantCount(),
			ByLifecycle: reg.CountByLifecycle(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeJSON(w, http.StatusOK, []dispatch.WorkerStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Dispatcher.WorkerStats())
}

type serverHealthView struct {
	Endpoint            string    `json:"endpoint"`
	Priority            int       `json:"priority"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalSuccesses      uint64    `json:"total_successes"`
	TotalFailures       uint64    `json:"total_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

type presenceStatsResponse struct {
	Client  *presence.ClientStats `json:"client,omitempty"`
	Router  *presence.RouterStats `json:"router,omitempty"`
	Servers []serverHealthView    `json:"servers,omitempty"`
}

func (s *Server) handlePresenceStats(w http.ResponseWriter, r *http.Request) {
	resp := presenceStatsResponse{}
	if p := s.deps.Presence; p != nil {
		v := p.Stats()
		resp.Client = &v
	}
	if rt := s.deps.Router; rt != nil {
		v := rt.Stats()
		resp.Router = &v
	}
	if f := s.deps.Failover; f != nil {
		for _, h := range f.Health() {
			resp.Servers = append(resp.Servers, serverHealthView{
				Endpoint:            h.Endpoint.Addr(),
				Priority:            h.Endpoint.Priority,
				Healthy:             h.Healthy,
				ConsecutiveFailures: h.ConsecutiveFailures,
				TotalSuccesses:      h.TotalSuccesses,
				TotalFailures:       h.TotalFailures,
				LastSuccess:         h.LastSuccess,
				LastFailure:         h.LastFailure,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type subscriptionView struct {
	DialogID     string    `json:"dialog_id"`
	TenantID     string    `json:"tenant_id"`
	Kind         string    `json:"type"`
	Lifecycle    string    `json:"lifecycle"`
	LastActivity time.Time `json:"last_activity"`
	Worker       int       `json:"worker"`
}

type subscriptionsResponse struct {
	Tenant        string             `json:"tenant,omitempty"`
	Count         int                `json:"count"`
	Truncated     bool               `json:"truncated"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusOK, subscriptionsResponse{Subscriptions: []subscriptionView{}})
		return
	}

	tenant := r.URL.Query().Get("tenant")
	var infos []subscription.Info
	if tenant != "" {
		infos = s.deps.Registry.TenantSubscriptions(tenant)
	} else {
		infos = s.deps.Registry.All()
	}

	resp := subscriptionsResponse{
		Tenant:        tenant,
		Count:         len(infos),
		Subscriptions: make([]subscriptionView, 0, min(len(infos), maxSubscriptionList)),
	}
	for _, info := range infos {
		if len(resp.Subscriptions) >= maxSubscriptionList {
			resp.Truncated = true
			break
		}
		resp.Subscriptions = append(resp.Subscriptions, subscriptionView{
			DialogID:     string(info.DialogID),
			TenantID:     info.TenantID,
			Kind:         info.Kind.String(),
			Lifecycle:    info.Lifecycle.String(),
			LastActivity: info.LastActivity,
			Worker:       info.WorkerIndex,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Best effort; the client is gone if this fails.
	_ = json.NewEncoder(w).Encode(v)
}
