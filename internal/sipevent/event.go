// SPDX-License-Identifier: MIT
package sipevent

import (
	"sync/atomic"
	"time"
)

// Category is the kind of SIP interaction an event describes.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategorySubscribe
	CategoryNotify
	CategoryPublish
	CategoryPresenceTrigger
)

func (c Category) String() string {
	switch c {
	case CategorySubscribe:
		return "SUBSCRIBE"
	case CategoryNotify:
		return "NOTIFY"
	case CategoryPublish:
		return "PUBLISH"
	case CategoryPresenceTrigger:
		return "PRESENCE_TRIGGER"
	default:
		return "UNKNOWN"
	}
}

// Direction distinguishes requests we received from responses to requests
// we sent.
type Direction uint8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// Source identifies which input fed the event into the dispatcher.
type Source uint8

const (
	SourceSIPStack Source = iota
	SourcePresenceFeed
)

func (s Source) String() string {
	if s == SourcePresenceFeed {
		return "presence_feed"
	}
	return "sip_stack"
}

// Handle is an opaque capability for writing back into the SIP dialog the
// event arrived on. It is owned by exactly one worker and released on the
// terminal lifecycle transition.
type Handle interface {
	Release()
}

// Truncation bounds applied at event construction. Oversized input is a
// peer misbehaving, not a reason to drop the dialog.
const (
	maxPhraseLen      = 256
	maxTagLen         = 128
	maxEventHeaderLen = 128
	maxContentType    = 256
	maxBodyLen        = 64 * 1024
)

// Event is the unit of dispatch. One event describes either a SIP request
// we received, a response to a NOTIFY we sent, or a presence trigger
// synthesised by the router.
type Event struct {
	ID       uint64
	DialogID DialogID
	TenantID string

	Category  Category
	Direction Direction
	Source    Source
	Kind      SubscriptionKind

	// Response fields, set only for Direction == DirectionOutgoing.
	Status int
	Phrase string

	CallID      string
	FromURI     string
	FromTag     string
	ToURI       string
	ToTag       string
	EventHeader string
	ContentType string
	Body        string
	CSeq        uint32
	ContactURI  string

	// Expires carries the SUBSCRIBE Expires header; -1 means the header
	// was absent. Zero is an unsubscribe, never a default.
	Expires int

	SubscriptionState string
	TerminationReason string

	// Presence feed fields, set only for presence triggers.
	PresenceCallID    string
	PresenceCallerURI string
	PresenceCalleeURI string
	PresenceState     string
	PresenceDirection string

	CreatedAt  time.Time
	EnqueuedAt time.Time
	DequeuedAt time.Time

	// BodyTruncated records that the inbound body exceeded the cap.
	BodyTruncated bool

	Handle Handle
}

var eventIDCounter atomic.Uint64

// NextEventID returns a process-unique event id. IDs start at 1 so zero
// always means "unset".
func NextEventID() uint64 {
	return eventIDCounter.Add(1)
}

// New returns an event with the id, timestamps and the Expires sentinel
// initialised. Callers fill in the rest.
func New(category Category, direction Direction, source Source) *Event {
	return &Event{
		ID:        NextEventID(),
		Category:  category,
		Direction: direction,
		Source:    source,
		Expires:   -1,
		CreatedAt: time.Now(),
	}
}

// NewPresenceTrigger synthesises the per-watcher event the presence router
// fans into the dispatcher. The dialog package processor builds the
// versioned NOTIFY body; body here is an optional pre-rendered document.
func NewPresenceTrigger(dialogID DialogID, tenantID, presenceCallID, callerURI, calleeURI, blfState, direction, body string) *Event {
	ev := New(CategoryPresenceTrigger, DirectionIncoming, SourcePresenceFeed)
	ev.DialogID = dialogID
	ev.TenantID = tenantID
	ev.Kind = KindBLF
	ev.PresenceCallID = presenceCallID
	ev.PresenceCallerURI = callerURI
	ev.PresenceCalleeURI = calleeURI
	ev.PresenceState = blfState
	ev.PresenceDirection = direction
	ev.ContentType = "application/dialog-info+xml"
	ev.Body = body
	return ev
}

// SetPhrase stores a response phrase, truncated to the header bound.
func (e *Event) SetPhrase(s string) { e.Phrase = truncate(s, maxPhraseLen) }

// SetTags stores both dialog tags, truncated.
func (e *Event) SetTags(fromTag, toTag string) {
	e.FromTag = truncate(fromTag, maxTagLen)
	e.ToTag = truncate(toTag, maxTagLen)
}

// SetEventHeader stores the Event header and derives the package hint.
func (e *Event) SetEventHeader(s string) {
	e.EventHeader = truncate(s, maxEventHeaderLen)
	e.Kind = ParseKind(e.EventHeader)
}

// SetContentType stores the Content-Type header, truncated.
func (e *Event) SetContentType(s string) { e.ContentType = truncate(s, maxContentType) }

// SetBody stores the message body, capping it at 64 KiB. The truncation is
// flagged so the worker can count it.
func (e *Event) SetBody(b []byte) {
	if len(b) > maxBodyLen {
		e.Body = string(b[:maxBodyLen])
		e.BodyTruncated = true
		return
	}
	e.Body = string(b)
}

// IsUnsubscribe reports whether this event is an incoming SUBSCRIBE with
// Expires: 0, the RFC 6665 way of ending a subscription.
func (e *Event) IsUnsubscribe() bool {
	return e.Category == CategorySubscribe && e.Direction == DirectionIncoming && e.Expires == 0
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
