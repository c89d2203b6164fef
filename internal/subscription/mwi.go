// SPDX-License-Identifier: MIT
package subscription

import (
	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

// MWIProcessor implements the message-summary event package (RFC 3842).
// Message counts arrive via inbound NOTIFY or PUBLISH and fan out to the
// subscriber as simple-message-summary NOTIFYs.
type MWIProcessor struct {
	logger     zerolog.Logger
	defaultTTL int
}

func NewMWIProcessor(defaultTTL int) *MWIProcessor {
	return &MWIProcessor{
		logger:     log.WithComponent("mwi"),
		defaultTTL: defaultTTL,
	}
}

func (p *MWIProcessor) Kind() sipevent.SubscriptionKind { return sipevent.KindMWI }

// Process routes one event through the message-summary state machine.
func (p *MWIProcessor) Process(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
	switch {
	case ev.Category == sipevent.CategorySubscribe && ev.Direction == sipevent.DirectionIncoming:
		return p.handleSubscribe(rec, ev)
	case ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionIncoming,
		ev.Category == sipevent.CategoryPublish && ev.Direction == sipevent.DirectionIncoming:
		return p.handleSummaryUpdate(rec, ev)
	case ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionOutgoing:
		return NotifyAction{}, p.handleNotifyResponse(rec, ev)
	default:
		p.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str(log.FieldEvent, ev.Category.String()).
			Msg("unsupported event for message-summary package")
		return NotifyAction{}, result.InvalidArgument
	}
}

func (p *MWIProcessor) handleSubscribe(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
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
			ShouldNotify: true,
			Body: BuildMessageSummary(rec.MWINewMessages > 0, rec.MWIAccountURI,
				rec.MWINewMessages, rec.MWIOldMessages),
			ContentType:       "application/simple-message-summary",
			SubscriptionState: "terminated;reason=timeout",
		}, result.Ok
	}

	if uri := NormalizeURI(ev.ToURI); uri != "" && rec.MWIAccountURI == "" {
		rec.MWIAccountURI = uri
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
			Str("account", rec.MWIAccountURI).
			Int("expires", expires).
			Msg("mwi subscription activated")
	}

	body := BuildMessageSummary(rec.MWINewMessages > 0, rec.MWIAccountURI,
		rec.MWINewMessages, rec.MWIOldMessages)
	rec.MWILastNotifyBody = body
	rec.NotifyVersion++

	return NotifyAction{
		ShouldNotify:      true,
		Body:              body,
		ContentType:       "application/simple-message-summary",
		SubscriptionState: subscriptionStateActive(rec, expires),
	}, result.Ok
}

// handleSummaryUpdate digests a message-summary body from the voicemail
// platform and re-notifies the subscriber when the counts changed.
func (p *MWIProcessor) handleSummaryUpdate(rec *Record, ev *sipevent.Event) (NotifyAction, result.Code) {
	rec.Touch()

	sum := ParseMessageSummary(ev.Body)
	if !sum.Valid {
		p.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Msg("unparseable message-summary body")
		return NotifyAction{}, result.ParseError
	}

	changed := sum.NewMessages != rec.MWINewMessages ||
		sum.OldMessages != rec.MWIOldMessages ||
		rec.NeedsFullStateNotify
	rec.MWINewMessages = sum.NewMessages
	rec.MWIOldMessages = sum.OldMessages
	if sum.Account != "" {
		rec.MWIAccountURI = NormalizeURI(sum.Account)
	}
	rec.NeedsFullStateNotify = false
	rec.Dirty = true

	if hasToken(ev.SubscriptionState, "terminated") {
		rec.TransitionTo(LifecycleTerminated)
		return NotifyAction{}, result.Ok
	}

	if !changed || rec.Lifecycle != LifecycleActive {
		return NotifyAction{}, result.Ok
	}

	body := BuildMessageSummary(sum.MessagesWaiting, rec.MWIAccountURI,
		sum.NewMessages, sum.OldMessages)
	rec.MWILastNotifyBody = body
	rec.NotifyVersion++

	p.logger.Debug().
		Str(log.FieldDialogID, string(rec.DialogID)).
		Int("new", sum.NewMessages).
		Int("old", sum.OldMessages).
		Msg("message counts changed")

	return NotifyAction{
		ShouldNotify:      true,
		Body:              body,
		ContentType:       "application/simple-message-summary",
		SubscriptionState: subscriptionStateActive(rec, p.defaultTTL),
	}, result.Ok
}

// handleNotifyResponse inspects a response to a NOTIFY we sent. Any failure
// response ends the subscription, 403 included: voicemail platforms revoke
// accounts and the subscription cannot recover from that.
func (p *MWIProcessor) handleNotifyResponse(rec *Record, ev *sipevent.Event) result.Code {
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
	}
	return result.Ok
}
