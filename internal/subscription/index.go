// SPDX-License-Identifier: MIT
package subscription

import (
	"strings"
	"sync"

	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

// Watcher is one entry in the BLF index: a dialog observing a monitored URI.
type Watcher struct {
	DialogID sipevent.DialogID
	TenantID string
}

// BLFIndex maps normalised monitored URIs to their watchers, with a reverse
// map for cheap deregistration. Written only by worker goroutines at
// activation/termination; read by the presence router on every feed event,
// so reads take the shared lock and return snapshots.
type BLFIndex struct {
	mu          sync.RWMutex
	uriWatchers map[string][]Watcher
	dialogURI   map[sipevent.DialogID]string
}

func NewBLFIndex() *BLFIndex {
	return &BLFIndex{
		uriWatchers: make(map[string][]Watcher),
		dialogURI:   make(map[sipevent.DialogID]string),
	}
}

// NormalizeURI canonicalises a SIP URI for index keys: angle brackets and
// parameters stripped, default port dropped, scheme and host lowercased.
// The user part keeps its case — RFC 3261 user comparison is case-sensitive.
func NormalizeURI(uri string) string {
	if uri == "" {
		return ""
	}
	s := strings.TrimPrefix(uri, "<")
	s = strings.TrimSuffix(s, ">")

	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		s = s[:semi]
	}

	at := strings.IndexByte(s, '@')
	if at >= 0 {
		if colon := strings.IndexByte(s[at:], ':'); colon >= 0 {
			if s[at+colon+1:] == "5060" {
				s = s[:at+colon]
			}
		}
	}

	if schemeEnd := strings.IndexByte(s, ':'); schemeEnd >= 0 {
		s = strings.ToLower(s[:schemeEnd+1]) + s[schemeEnd+1:]
	}
	at = strings.IndexByte(s, '@')
	if at >= 0 && at+1 < len(s) {
		s = s[:at+1] + strings.ToLower(s[at+1:])
	}

	if !strings.HasPrefix(s, "sip:") && !strings.HasPrefix(s, "sips:") {
		s = "sip:" + s
	}
	return s
}

// Add indexes a watcher. A dialog re-adding itself under a new URI moves;
// re-adding under the same URI is a no-op.
func (x *BLFIndex) Add(monitoredURI string, dialogID sipevent.DialogID, tenantID string) {
	if monitoredURI == "" || dialogID == "" {
		return
	}
	norm := NormalizeURI(monitoredURI)

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.dialogURI[dialogID]; ok {
		if old == norm {
			return
		}
		x.removeLocked(old, dialogID)
	}
	x.uriWatchers[norm] = append(x.uriWatchers[norm], Watcher{DialogID: dialogID, TenantID: tenantID})
	x.dialogURI[dialogID] = norm
}

// Remove drops one (uri, dialog) pairing.
func (x *BLFIndex) Remove(monitoredURI string, dialogID sipevent.DialogID) {
	norm := NormalizeURI(monitoredURI)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(norm, dialogID)
	delete(x.dialogURI, dialogID)
}

// RemoveDialog deregisters a dialog via the reverse map, used on terminal
// transitions where the caller may not know the current URI.
func (x *BLFIndex) RemoveDialog(dialogID sipevent.DialogID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	norm, ok := x.dialogURI[dialogID]
	if !ok {
		return
	}
	delete(x.dialogURI, dialogID)
	x.removeLocked(norm, dialogID)
}

func (x *BLFIndex) removeLocked(normURI string, dialogID sipevent.DialogID) {
	watchers, ok := x.uriWatchers[normURI]
	if !ok {
		return
	}
	kept := watchers[:0]
	for _, w := range watchers {
		if w.DialogID != dialogID {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		delete(x.uriWatchers, normURI)
	} else {
		x.uriWatchers[normURI] = kept
	}
}

// Lookup returns a snapshot of the watchers for a URI so callers never
// dispatch while holding the read lock.
func (x *BLFIndex) Lookup(monitoredURI string) []Watcher {
	norm := NormalizeURI(monitoredURI)
	x.mu.RLock()
	defer x.mu.RUnlock()
	watchers := x.uriWatchers[norm]
	if len(watchers) == 0 {
		return nil
	}
	out := make([]Watcher, len(watchers))
	copy(out, watchers)
	return out
}

// LookupTenant filters the snapshot to one tenant.
func (x *BLFIndex) LookupTenant(monitoredURI, tenantID string) []Watcher {
	var out []Watcher
	for _, w := range x.Lookup(monitoredURI) {
		if w.TenantID == tenantID {
			out = append(out, w)
		}
	}
	return out
}

// MonitoredURICount returns the number of distinct indexed URIs.
func (x *BLFIndex) MonitoredURICount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.uriWatchers)
}

// TotalWatcherCount returns the number of (uri, dialog) pairings.
func (x *BLFIndex) TotalWatcherCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, watchers := range x.uriWatchers {
		n += len(watchers)
	}
	return n
}
