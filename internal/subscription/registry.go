// SPDX-License-Identifier: MIT
package subscription

import (
	"sync"
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

// Info is the registry's view of a subscription: enough for tenant quota
// checks and the HTTP readout, nothing a worker owns exclusively.
type Info struct {
	DialogID     sipevent.DialogID         `json:"dialog_id"`
	TenantID     string                    `json:"tenant_id"`
	Kind         sipevent.SubscriptionKind `json:"-"`
	Lifecycle    Lifecycle                 `json:"-"`
	LastActivity time.Time                 `json:"last_activity"`
	WorkerIndex  int                       `json:"worker"`
}

// Registry is the process-wide subscription directory. Constructed once at
// startup and threaded through every component that needs quota counts or
// listings; never a package global.
type Registry struct {
	mu           sync.Mutex
	subs         map[sipevent.DialogID]Info
	tenantCounts map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		subs:         make(map[sipevent.DialogID]Info),
		tenantCounts: make(map[string]int),
	}
}

// Register upserts a subscription. The tenant counter only moves on first
// insert, so refreshes are free.
func (r *Registry) Register(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subs[info.DialogID]; !exists {
		r.tenantCounts[info.TenantID]++
	}
	r.subs[info.DialogID] = info
}

// Unregister removes a subscription and decrements its tenant counter.
// Unknown ids are a no-op.
func (r *Registry) Unregister(dialogID sipevent.DialogID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.subs[dialogID]
	if !ok {
		return
	}
	if n := r.tenantCounts[info.TenantID]; n > 1 {
		r.tenantCounts[info.TenantID] = n - 1
	} else {
		delete(r.tenantCounts, info.TenantID)
	}
	delete(r.subs, dialogID)
}

// Lookup returns a copy of the registered info.
func (r *Registry) Lookup(dialogID sipevent.DialogID) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.subs[dialogID]
	return info, ok
}

// CountByTenant is the admission quota gate.
func (r *Registry) CountByTenant(tenantID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenantCounts[tenantID]
}

// TotalCount returns the number of registered subscriptions.
func (r *Registry) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// TenantCount returns the number of distinct tenants with subscriptions.
func (r *Registry) TenantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenantCounts)
}

// CountByKind counts subscriptions of one event package.
func (r *Registry) CountByKind(kind sipevent.SubscriptionKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, info := range r.subs {
		if info.Kind == kind {
			n++
		}
	}
	return n
}

// CountByLifecycle aggregates subscriptions per lifecycle name.
func (r *Registry) CountByLifecycle() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, 4)
	for _, info := range r.subs {
		out[info.Lifecycle.String()]++
	}
	return out
}

// All returns copies of every registered subscription.
func (r *Registry) All() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.subs))
	for _, info := range r.subs {
		out = append(out, info)
	}
	return out
}

// TenantSubscriptions returns copies of one tenant's subscriptions.
func (r *Registry) TenantSubscriptions(tenantID string) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Info
	for _, info := range r.subs {
		if info.TenantID == tenantID {
			out = append(out, info)
		}
	}
	return out
}
