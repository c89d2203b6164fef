// SPDX-License-Identifier: MIT

// Package subscription holds the per-dialog subscription state, the
// process-wide registry and BLF watcher index, and the two event-package
// processors (dialog / message-summary).
package subscription

import (
	"time"

	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

// Lifecycle is the subscription state machine. Transitions only move
// forward; Terminated is absorbing.
type Lifecycle uint8

const (
	LifecyclePending Lifecycle = iota
	LifecycleActive
	LifecycleTerminating
	LifecycleTerminated
)

// String forms double as the persisted representation; keep them stable.
func (l Lifecycle) String() string {
	switch l {
	case LifecyclePending:
		return "Pending"
	case LifecycleActive:
		return "Active"
	case LifecycleTerminating:
		return "Terminating"
	case LifecycleTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// LifecycleFromString restores a lifecycle from its persisted form.
// Unrecognised input maps to Terminated so a corrupt document can never
// resurrect a dead dialog.
func LifecycleFromString(s string) Lifecycle {
	switch s {
	case "Pending":
		return LifecyclePending
	case "Active":
		return LifecycleActive
	case "Terminating":
		return LifecycleTerminating
	default:
		return LifecycleTerminated
	}
}

// Record is the full per-dialog subscription state, owned by exactly one
// worker. Nothing here is synchronised; cross-thread reads go through the
// registry snapshot instead.
type Record struct {
	DialogID sipevent.DialogID
	TenantID string
	Kind     sipevent.SubscriptionKind

	Lifecycle Lifecycle

	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time // zero = never expires

	CSeq            uint32 // last SUBSCRIBE CSeq seen
	NotifyCSeq      uint32 // next outbound NOTIFY CSeq
	NotifyVersion   uint32 // next RFC 4235 version= to emit
	EventsProcessed uint64

	IsProcessing        bool
	ProcessingStartedAt time.Time

	// Dirty marks in-memory mutations not yet handed to the store.
	Dirty bool

	// BLF state.
	BLFMonitoredURI   string
	BLFLastState      string
	BLFLastDirection  string
	BLFPresenceCallID string
	BLFLastNotifyBody string

	// MWI state.
	MWINewMessages   int
	MWIOldMessages   int
	MWIAccountURI    string
	MWILastNotifyBody string

	// Dialog reconstructors, enough to address a NOTIFY without the
	// live handle after a peer takeover.
	FromURI    string
	FromTag    string
	ToURI      string
	ToTag      string
	CallID     string
	ContactURI string

	// NeedsFullStateNotify is set on recovery: the first trigger after a
	// takeover must carry full state regardless of change detection.
	NeedsFullStateNotify bool

	NotifyErrors uint64
}

// NewRecord creates a Pending record stamped with the current time.
func NewRecord(dialogID sipevent.DialogID, tenantID string, kind sipevent.SubscriptionKind) *Record {
	now := time.Now()
	return &Record{
		DialogID:     dialogID,
		TenantID:     tenantID,
		Kind:         kind,
		Lifecycle:    LifecyclePending,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch refreshes the activity timestamp.
func (r *Record) Touch() { r.LastActivity = time.Now() }

// TransitionTo advances the lifecycle. Backward transitions are refused,
// which enforces monotonicity no matter which processor asked.
func (r *Record) TransitionTo(next Lifecycle) bool {
	if next < r.Lifecycle {
		return false
	}
	r.Lifecycle = next
	return true
}

// IsExpired reports whether the subscription passed its Expires deadline.
func (r *Record) IsExpired() bool {
	return !r.ExpiresAt.IsZero() && time.Now().After(r.ExpiresAt)
}

// IsStuck reports whether an event has been in processing longer than the
// configured timeout, which the reaper treats as a wedged dialog.
func (r *Record) IsStuck(timeout time.Duration) bool {
	return r.IsProcessing && !r.ProcessingStartedAt.IsZero() &&
		time.Since(r.ProcessingStartedAt) > timeout
}

// NextNotifyVersion returns the document version for the NOTIFY about to be
// built and advances the counter. Only the owning worker calls this.
func (r *Record) NextNotifyVersion() uint32 {
	v := r.NotifyVersion
	r.NotifyVersion++
	return v
}

// RemainingExpiry returns the whole seconds left until expiry, clamped at
// zero. A zero ExpiresAt reports the fallback.
func (r *Record) RemainingExpiry(fallback int) int {
	if r.ExpiresAt.IsZero() {
		return fallback
	}
	left := time.Until(r.ExpiresAt)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// SetExpiresIn derives ExpiresAt from a SUBSCRIBE Expires value.
func (r *Record) SetExpiresIn(seconds int) {
	if seconds > 0 {
		r.ExpiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
	}
}
