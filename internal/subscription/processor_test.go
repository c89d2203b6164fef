// SPDX-License-Identifier: MIT
package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
)

func newSubscribeEvent(toURI string, expires int) *sipevent.Event {
	ev := sipevent.New(sipevent.CategorySubscribe, sipevent.DirectionIncoming, sipevent.SourceSIPStack)
	ev.ToURI = toURI
	ev.Expires = expires
	ev.CSeq = 1
	return ev
}

func TestBLFSubscribeActivates(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)

	action, code := p.Process(rec, newSubscribeEvent("<sip:2001@pbx.example.com>", 1800))
	require.True(t, code.IsOk())

	assert.Equal(t, LifecycleActive, rec.Lifecycle)
	assert.Equal(t, "sip:2001@pbx.example.com", rec.BLFMonitoredURI)
	assert.False(t, rec.ExpiresAt.IsZero())
	assert.True(t, rec.Dirty)

	require.True(t, action.ShouldNotify)
	assert.Equal(t, "application/dialog-info+xml", action.ContentType)
	assert.Contains(t, action.Body, `version="0"`, "first notify carries version 0")
	assert.Contains(t, action.SubscriptionState, "active;expires=")
	assert.Equal(t, uint32(1), rec.NotifyVersion)
}

func TestBLFSubscribeMissingExpiresUsesDefault(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)

	// Expires header absent is -1, never zero: zero would be an
	// unsubscribe and tear the dialog down immediately.
	action, code := p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", -1))
	require.True(t, code.IsOk())
	assert.Equal(t, LifecycleActive, rec.Lifecycle)
	assert.True(t, action.ShouldNotify)
	assert.WithinDuration(t, time.Now().Add(3600*time.Second), rec.ExpiresAt, 2*time.Second)
}

func TestBLFUnsubscribeTerminates(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))

	action, code := p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 0))
	require.True(t, code.IsOk())
	assert.Equal(t, LifecycleTerminating, rec.Lifecycle)
	require.True(t, action.ShouldNotify)
	assert.Contains(t, action.SubscriptionState, "terminated")
}

func TestBLFPresenceTriggerNotifiesOnChange(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))
	require.Equal(t, uint32(1), rec.NotifyVersion)

	trig := sipevent.NewPresenceTrigger(rec.DialogID, rec.TenantID,
		"pcall-1", "sip:2002@pbx.example.com", "sip:2001@pbx.example.com",
		"Trying", "inbound", "")

	action, code := p.Process(rec, trig)
	require.True(t, code.IsOk())
	require.True(t, action.ShouldNotify)
	assert.Contains(t, action.Body, `version="1"`)
	assert.Contains(t, action.Body, "<state>Trying</state>")
	assert.Equal(t, "Trying", rec.BLFLastState)
	assert.Equal(t, "pcall-1", rec.BLFPresenceCallID)

	// Same state, same call: suppressed.
	action, code = p.Process(rec, trig)
	require.True(t, code.IsOk())
	assert.False(t, action.ShouldNotify)
	assert.Equal(t, uint32(2), rec.NotifyVersion)

	// Same state on a different call is still a change.
	trig2 := sipevent.NewPresenceTrigger(rec.DialogID, rec.TenantID,
		"pcall-2", "sip:2003@pbx.example.com", "sip:2001@pbx.example.com",
		"Trying", "inbound", "")
	action, code = p.Process(rec, trig2)
	require.True(t, code.IsOk())
	assert.True(t, action.ShouldNotify)
}

func TestBLFPresenceTriggerNonActiveRefused(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)

	trig := sipevent.NewPresenceTrigger(rec.DialogID, rec.TenantID,
		"pcall-1", "sip:a@b", "sip:c@d", "Trying", "inbound", "")
	action, code := p.Process(rec, trig)
	assert.Equal(t, result.InvalidArgument, code)
	assert.False(t, action.ShouldNotify)
}

func TestBLFRecoveredSubscriptionForcesFullNotify(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))

	trig := sipevent.NewPresenceTrigger(rec.DialogID, rec.TenantID,
		"pcall-1", "sip:a@b", "sip:2001@pbx.example.com", "Confirmed", "inbound", "")
	_, _ = p.Process(rec, trig)

	// A takeover replays the same state; the full-state flag still
	// produces a NOTIFY once.
	rec.NeedsFullStateNotify = true
	action, code := p.Process(rec, trig)
	require.True(t, code.IsOk())
	assert.True(t, action.ShouldNotify)
	assert.False(t, rec.NeedsFullStateNotify)
}

func TestBLFNotifyResponseTerminalCodes(t *testing.T) {
	for _, status := range []int{481, 408, 489} {
		p := NewBLFProcessor(3600)
		rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
		_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))

		resp := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionOutgoing, sipevent.SourceSIPStack)
		resp.Status = status
		_, code := p.Process(rec, resp)
		require.True(t, code.IsOk())
		assert.Equal(t, LifecycleTerminating, rec.Lifecycle, "status %d", status)
	}
}

func TestBLFNotifyResponseAnyFailureTerminates(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))

	resp := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionOutgoing, sipevent.SourceSIPStack)
	resp.Status = 500
	_, _ = p.Process(rec, resp)
	assert.Equal(t, LifecycleTerminating, rec.Lifecycle)
	assert.Equal(t, uint64(1), rec.NotifyErrors)
}

func TestBLFNotifyResponseSuccessResetsErrors(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))
	rec.NotifyErrors = 3

	resp := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionOutgoing, sipevent.SourceSIPStack)
	resp.Status = 200
	_, _ = p.Process(rec, resp)
	assert.Zero(t, rec.NotifyErrors)
	assert.Equal(t, LifecycleActive, rec.Lifecycle)
}

func TestBLFInboundNotifyUpdatesState(t *testing.T) {
	p := NewBLFProcessor(3600)
	rec := NewRecord("call-1", "tenant-a", sipevent.KindBLF)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 1800))

	ev := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionIncoming, sipevent.SourceSIPStack)
	ev.Body = BuildDialogInfo("sip:2001@pbx.example.com", 1, "up-1", "early", "initiator", "", "")
	_, code := p.Process(rec, ev)
	require.True(t, code.IsOk())
	assert.Equal(t, "early", rec.BLFLastState)

	ev2 := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionIncoming, sipevent.SourceSIPStack)
	ev2.Body = ev.Body
	ev2.SubscriptionState = "terminated;reason=noresource"
	_, _ = p.Process(rec, ev2)
	assert.Equal(t, LifecycleTerminated, rec.Lifecycle)
}

func TestMWISubscribeAndUpdate(t *testing.T) {
	p := NewMWIProcessor(86400)
	rec := NewRecord("call-2", "tenant-a", sipevent.KindMWI)

	action, code := p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 3600))
	require.True(t, code.IsOk())
	assert.Equal(t, LifecycleActive, rec.Lifecycle)
	require.True(t, action.ShouldNotify)
	assert.Equal(t, "application/simple-message-summary", action.ContentType)
	assert.Contains(t, action.Body, "Messages-Waiting: no")

	upd := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionIncoming, sipevent.SourceSIPStack)
	upd.Body = "Messages-Waiting: yes\r\nVoice-Message: 2/5 (0/0)\r\n"
	action, code = p.Process(rec, upd)
	require.True(t, code.IsOk())
	require.True(t, action.ShouldNotify)
	assert.Contains(t, action.Body, "Messages-Waiting: yes")
	assert.Contains(t, action.Body, "Voice-Message: 2/5")
	assert.Equal(t, 2, rec.MWINewMessages)
	assert.Equal(t, 5, rec.MWIOldMessages)

	// Unchanged counts are suppressed.
	action, code = p.Process(rec, upd)
	require.True(t, code.IsOk())
	assert.False(t, action.ShouldNotify)
}

func TestMWIUpdateGarbageBody(t *testing.T) {
	p := NewMWIProcessor(86400)
	rec := NewRecord("call-2", "tenant-a", sipevent.KindMWI)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 3600))

	upd := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionIncoming, sipevent.SourceSIPStack)
	upd.Body = "not a summary"
	_, code := p.Process(rec, upd)
	assert.Equal(t, result.ParseError, code)
	assert.Equal(t, LifecycleActive, rec.Lifecycle)
}

func TestMWINotifyResponse403Terminates(t *testing.T) {
	p := NewMWIProcessor(86400)
	rec := NewRecord("call-2", "tenant-a", sipevent.KindMWI)
	_, _ = p.Process(rec, newSubscribeEvent("sip:2001@pbx.example.com", 3600))

	resp := sipevent.New(sipevent.CategoryNotify, sipevent.DirectionOutgoing, sipevent.SourceSIPStack)
	resp.Status = 403
	_, code := p.Process(rec, resp)
	require.True(t, code.IsOk())
	assert.Equal(t, LifecycleTerminating, rec.Lifecycle)
}

func TestLifecycleMonotone(t *testing.T) {
	rec := NewRecord("call-1", "t", sipevent.KindBLF)
	require.True(t, rec.TransitionTo(LifecycleActive))
	require.True(t, rec.TransitionTo(LifecycleTerminated))
	assert.False(t, rec.TransitionTo(LifecycleActive))
	assert.False(t, rec.TransitionTo(LifecyclePending))
	assert.Equal(t, LifecycleTerminated, rec.Lifecycle)
}

func TestLifecycleFromStringCorruptMapsTerminated(t *testing.T) {
	assert.Equal(t, LifecycleActive, LifecycleFromString("Active"))
	assert.Equal(t, LifecycleTerminated, LifecycleFromString("garbage"))
	assert.Equal(t, LifecycleTerminated, LifecycleFromString(""))
}

func TestRegistryQuotaCounting(t *testing.T) {
	r := NewRegistry()
	r.Register(Info{DialogID: "d1", TenantID: "a", Kind: sipevent.KindBLF})
	r.Register(Info{DialogID: "d2", TenantID: "a", Kind: sipevent.KindMWI})
	r.Register(Info{DialogID: "d1", TenantID: "a", Kind: sipevent.KindBLF}) // refresh

	assert.Equal(t, 2, r.CountByTenant("a"))
	assert.Equal(t, 2, r.TotalCount())
	assert.Equal(t, 1, r.TenantCount())
	assert.Equal(t, 1, r.CountByKind(sipevent.KindBLF))

	r.Unregister("d1")
	assert.Equal(t, 1, r.CountByTenant("a"))
	r.Unregister("d1") // no-op
	assert.Equal(t, 1, r.CountByTenant("a"))
	r.Unregister("d2")
	assert.Zero(t, r.CountByTenant("a"))
	assert.Zero(t, r.TenantCount())
}
