// SPDX-License-Identifier: MIT
package subscription

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

// NotifyAction tells the worker what, if anything, to send after a
// processor ran. The processor mutates the record; the worker owns
// transport, persistence and the watcher index.
type NotifyAction struct {
	ShouldNotify      bool
	Body              string
	ContentType       string
	SubscriptionState string
}

// Processor is one event package's state machine. Implementations are not
// goroutine-safe; the owning worker serialises calls per dialog.
type Processor interface {
	Kind() sipevent.SubscriptionKind
	Process(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code)
}

// BLFProcessor implements the dialog event package (RFC 4235): SUBSCRIBE
// handling, inbound dialog-info parsing and presence-trigger fan-in.
type BLFProcessor struct {
	logger     zerolog.Logger
	defaultTTL int
}

func NewBLFProcessor(defaultTTL int) *BLFProcessor {
	return &BLFProcessor{
		logger:     log.WithComponent("blf"),
		defaultTTL: defaultTTL,
	}
}

func (p *BLFProcessor) Kind() sipevent.SubscriptionKind { return sipevent.KindBLF }

// Process routes one event through the dialog package state machine.
func (p *BLFProcessor) Process(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
	switch {
	case ev.Category == sipevent.CategorySubscribe && ev.Direction == sipevent.DirectionIncoming:
		return p.handleSubscribe(rec, ev)
	case ev.Category == sipevent.CategorySubscribe && ev.Direction == sipevent.DirectionOutgoing:
		return NotifyAction{}, p.handleSubscribeResponse(rec, ev)
	case ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionIncoming:
		return NotifyAction{}, p.handleNotify(rec, ev)
	case ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionOutgoing:
		return NotifyAction{}, p.handleNotifyResponse(rec, ev)
	case ev.Category == sipevent.CategoryPresenceTrigger:
		return p.handlePresenceTrigger(rec, ev)
	default:
		p.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str(log.FieldEvent, ev.Category.String()).
			Msg("unsupported event for dialog package")
		return NotifyAction{}, result.InvalidArgument
	}
}

func (p *BLFProcessor) handleSubscribe(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
	rec.Touch()
	rec.CSeq = ev.CSeq
	rec.Dirty = true

	if ev.IsUnsubscribe() {
		rec.TransitionTo(LifecycleTerminating)
		p.logger.Info().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str(log.FieldTenantID, rec.TenantID).
			Msg("unsubscribe received")
		return NotifyAction{
			ShouldNotify:      true,
			Body:              BuildEmptyDialogInfo(rec.BLFMonitoredURI, rec.NextNotifyVersion()),
			ContentType:       "application/dialog-info+xml",
			SubscriptionState: "terminated;reason=timeout",
		}, result.Ok
	}

	if uri := NormalizeURI(ev.ToURI); uri != "" {
		rec.BLFMonitoredURI = uri
	}

	expires := ev.Expires
	if expires < 0 {
		expires = p.defaultTTL
	}
	rec.SetExpiresIn(expires)

	if rec.Lifecycle == LifecyclePending {
		rec.TransitionTo(LifecycleActive)
		p.logger.Info().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str(log.FieldTenantID, rec.TenantID).
			Str(log.FieldMonitoredURI, rec.BLFMonitoredURI).
			Int("expires", expires).
			Msg("blf subscription activated")
	}

	// Initial and refresh NOTIFYs carry full state: last known dialog
	// state if we have one, the empty document otherwise.
	var body string
	if rec.BLFLastState != "" {
		body = BuildDialogInfo(rec.BLFMonitoredURI, rec.NextNotifyVersion(),
			rec.BLFPresenceCallID, rec.BLFLastState, rec.BLFLastDirection, "", "")
	} else {
		body = BuildEmptyDialogInfo(rec.BLFMonitoredURI, rec.NextNotifyVersion())
	}
	rec.BLFLastNotifyBody = body

	return NotifyAction{
		ShouldNotify:      true,
		Body:              body,
		ContentType:       "application/dialog-info+xml",
		SubscriptionState: subscriptionStateActive(rec, expires),
	}, result.Ok
}

// handleSubscribeResponse digests a response to a SUBSCRIBE we sent when
// acting as a watcher ourselves.
func (p *BLFProcessor) handleSubscribeResponse(rec *Record, ev *sipevent.Event) result.Code {
	rec.Touch()
	switch {
	case ev.Status >= 200 && ev.Status < 300:
		rec.TransitionTo(LifecycleActive)
		if ev.Expires > 0 {
			rec.SetExpiresIn(ev.Expires)
		}
		rec.Dirty = true
		return result.Ok
	case ev.Status == 481 || ev.Status == 489:
		rec.TransitionTo(LifecycleTerminated)
		rec.Dirty = true
		p.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Int("status", ev.Status).
			Msg("subscribe rejected, terminating")
		return result.Ok
	default:
		return result.Ok
	}
}

// handleNotify digests an inbound NOTIFY carrying dialog-info from an
// upstream notifier.
func (p *BLFProcessor) handleNotify(rec *Record, ev *sipevent.Event) result.Code {
	rec.Touch()

	if ev.Body != "" {
		st := ParseDialogInfo(ev.Body)
		if !st.Valid {
			p.logger.Warn().
				Str(log.FieldDialogID, string(rec.DialogID)).
				Msg("dialog-info body without state element")
			return result.ParseError
		}
		rec.BLFLastState = st.State
		rec.BLFLastDirection = st.Direction
		if st.ID != "" {
			rec.BLFPresenceCallID = st.ID
		}
		if st.Entity != "" {
			rec.BLFMonitoredURI = NormalizeURI(st.Entity)
		}
		rec.Dirty = true
	}

	if hasToken(ev.SubscriptionState, "terminated") {
		rec.TransitionTo(LifecycleTerminated)
		rec.Dirty = true
	}
	return result.Ok
}

// handleNotifyResponse inspects a response to a NOTIFY we sent. Any failure
// response ends the subscription: a watcher that rejects our NOTIFY has no
// usable dialog left (481 dialog gone, 408 unreachable, 489 bad event, and
// the rest are not worth retrying against).
func (p *BLFProcessor) handleNotifyResponse(rec *Record, ev *sipevent.Event) result.Code {
	rec.Touch()
	if ev.Status < 300 {
		rec.NotifyErrors = 0
		return result.Ok
	}
	rec.NotifyErrors++
	if ev.Status >= 400 {
		p.logger.Info().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Int("status", ev.Status).
			Msg("notify rejected, terminating subscription")
		rec.TransitionTo(LifecycleTerminating)
		rec.Dirty = true
		return result.Ok
	}
	p.logger.Warn().
		Str(log.FieldDialogID, string(rec.DialogID)).
		Int("status", ev.Status).
		Uint64("notify_errors", rec.NotifyErrors).
		Msg("notify redirected")
	return result.Ok
}

// handlePresenceTrigger converts a feed event into an outbound NOTIFY when
// the observed state actually changed. Triggers against non-active dialogs
// are refused; the router races terminations and that is fine.
func (p *BLFProcessor) handlePresenceTrigger(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
	if rec.Lifecycle != LifecycleActive {
		p.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str(log.FieldLifecycle, rec.Lifecycle.String()).
			Msg("presence trigger for non-active subscription")
		return NotifyAction{}, result.InvalidArgument
	}

	stateChanged := rec.BLFLastState != ev.PresenceState ||
		rec.BLFPresenceCallID != ev.PresenceCallID
	if !stateChanged && rec.BLFLastState != "" && !rec.NeedsFullStateNotify {
		return NotifyAction{}, result.Ok
	}

	rec.Touch()
	rec.BLFLastState = ev.PresenceState
	rec.BLFLastDirection = ev.PresenceDirection
	rec.BLFPresenceCallID = ev.PresenceCallID
	rec.NeedsFullStateNotify = false
	rec.Dirty = true

	body := BuildDialogInfo(rec.BLFMonitoredURI, rec.NextNotifyVersion(),
		ev.PresenceCallID, ev.PresenceState, ev.PresenceDirection,
		ev.PresenceCallerURI, ev.PresenceCalleeURI)
	rec.BLFLastNotifyBody = body

	p.logger.Debug().
		Str(log.FieldDialogID, string(rec.DialogID)).
		Str(log.FieldMonitoredURI, rec.BLFMonitoredURI).
		Str(log.FieldNewState, ev.PresenceState).
		Msg("presence state change")

	return NotifyAction{
		ShouldNotify:      true,
		Body:              body,
		ContentType:       "application/dialog-info+xml",
		SubscriptionState: subscriptionStateActive(rec, p.defaultTTL),
	}, result.Ok
}

func subscriptionStateActive(rec *Record, fallback int) string {
	return "active;expires=" + strconv.Itoa(rec.RemainingExpiry(fallback))
}

func hasToken(header, token string) bool {
	return header != "" && strings.Contains(strings.ToLower(header), token)
}
