// SPDX-License-Identifier: MIT
package sipevent

import "strings"

// SubscriptionKind is the event package a subscription serves.
type SubscriptionKind uint8

const (
	KindUnknown SubscriptionKind = iota
	KindBLF                      // dialog package, RFC 4235
	KindMWI                      // message-summary package, RFC 3842
)

// String forms double as the persisted representation; keep them stable.
func (k SubscriptionKind) String() string {
	switch k {
	case KindBLF:
		return "BLF"
	case KindMWI:
		return "MWI"
	default:
		return "Unknown"
	}
}

// EventPackage returns the Event header value for outbound NOTIFYs.
func (k SubscriptionKind) EventPackage() string {
	switch k {
	case KindBLF:
		return "dialog"
	case KindMWI:
		return "message-summary"
	default:
		return ""
	}
}

// ParseKind maps an Event header to a subscription kind. Matching is by
// substring so parameterised headers ("dialog;include-session-description")
// still resolve.
func ParseKind(eventHeader string) SubscriptionKind {
	switch {
	case strings.Contains(eventHeader, "dialog"):
		return KindBLF
	case strings.Contains(eventHeader, "message-summary"):
		return KindMWI
	default:
		return KindUnknown
	}
}

// KindFromString restores a kind from its persisted form.
func KindFromString(s string) SubscriptionKind {
	switch s {
	case "BLF":
		return KindBLF
	case "MWI":
		return KindMWI
	default:
		return KindUnknown
	}
}
