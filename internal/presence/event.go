// SPDX-License-Identifier: MIT

// Package presence consumes the external call-state feed: TCP client with
// failover across feed servers, streaming XML parser, and the router that
// fans parsed events out to BLF watchers.
package presence

import (
	"strings"
	"sync/atomic"
	"time"
)

// CallState is the call phase reported by the feed.
type CallState uint8

const (
	CallStateUnknown CallState = iota
	CallStateTrying
	CallStateRinging
	CallStateConfirmed
	CallStateTerminated
	CallStateHeld
	CallStateResumed
)

// String returns the RFC 4235 dialog state the call phase maps to. Held and
// resumed calls stay confirmed on the wire.
func (s CallState) String() string {
	switch s {
	case CallStateTrying:
		return "trying"
	case CallStateRinging:
		return "early"
	case CallStateConfirmed, CallStateHeld, CallStateResumed:
		return "confirmed"
	case CallStateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ParseCallState maps a feed state token to a call phase. Feeds from
// different PBX generations use different vocabularies.
func ParseCallState(token string) CallState {
	switch strings.ToLower(token) {
	case "trying", "setup":
		return CallStateTrying
	case "ringing", "early", "alerting":
		return CallStateRinging
	case "confirmed", "connected", "active":
		return CallStateConfirmed
	case "terminated", "disconnected", "released", "idle":
		return CallStateTerminated
	case "held", "hold":
		return CallStateHeld
	case "resumed":
		return CallStateResumed
	default:
		return CallStateUnknown
	}
}

// CallStateEvent is one parsed feed event.
type CallStateEvent struct {
	ID         uint64
	CallID     string
	CallerURI  string
	CalleeURI  string
	State      CallState
	Direction  string
	TenantID   string
	Timestamp  string
	ReceivedAt time.Time
	Valid      bool
}

var callStateEventID atomic.Uint64

func nextCallStateEventID() uint64 { return callStateEventID.Add(1) }
