// SPDX-License-Identifier: MIT
package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []*sipevent.Event
	code   result.Code
}

func (d *captureDispatcher) Dispatch(ev *sipevent.Event) result.Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return d.code
}

func (d *captureDispatcher) captured() []*sipevent.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*sipevent.Event, len(d.events))
	copy(out, d.events)
	return out
}

func testRouter(t *testing.T, disp Dispatcher) (*Router, *subscription.BLFIndex) {
	t.Helper()
	idx := subscription.NewBLFIndex()
	slow := slowlog.New(zerolog.Nop(), time.Second, 2*time.Second, 5*time.Second)
	r := NewRouter(&config.AppConfig{PresenceMaxPendingEvents: 16}, idx, disp, slow)
	return r, idx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestRouterFansOutToWatchers(t *testing.T) {
	defer goleak.VerifyNone(t)

	disp := &captureDispatcher{}
	r, idx := testRouter(t, disp)
	idx.Add("sip:2002@pbx.example.com", "dlg-1", "tenant-a")
	idx.Add("sip:2002@pbx.example.com", "dlg-2", "tenant-a")

	require.True(t, r.Start(context.Background()).IsOk())
	defer r.Stop()

	r.OnCallStateEvent(CallStateEvent{
		CallID:    "call-1",
		CallerURI: "sip:2001@pbx.example.com",
		CalleeURI: "sip:2002@pbx.example.com",
		State:     CallStateRinging,
		Direction: "inbound",
		Valid:     true,
	})

	waitFor(t, func() bool { return len(disp.captured()) == 2 })
	for _, ev := range disp.captured() {
		assert.Equal(t, sipevent.CategoryPresenceTrigger, ev.Category)
		assert.Equal(t, "early", ev.PresenceState)
		assert.Equal(t, "call-1", ev.PresenceCallID)
		assert.Equal(t, "tenant-a", ev.TenantID)
	}
	assert.Equal(t, uint64(2), r.Stats().NotificationsGenerated)
}

func TestRouterCallerLegWatched(t *testing.T) {
	defer goleak.VerifyNone(t)

	disp := &captureDispatcher{}
	r, idx := testRouter(t, disp)
	idx.Add("sip:2001@pbx.example.com", "dlg-caller", "tenant-a")

	require.True(t, r.Start(context.Background()).IsOk())
	defer r.Stop()

	r.OnCallStateEvent(CallStateEvent{
		CallID:    "call-1",
		CallerURI: "sip:2001@pbx.example.com",
		CalleeURI: "sip:2002@pbx.example.com",
		State:     CallStateConfirmed,
		Valid:     true,
	})

	waitFor(t, func() bool { return len(disp.captured()) == 1 })
	assert.Equal(t, sipevent.DialogID("dlg-caller"), disp.captured()[0].DialogID)
}

func TestRouterDialogWatchingBothLegsTriggersOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	disp := &captureDispatcher{}
	r, idx := testRouter(t, disp)
	// One dialog cannot watch two URIs, but two dialogs of the same
	// watcher can cover both legs; a single dialog appearing in both
	// lookups (same URI on both legs) must trigger once.
	idx.Add("sip:2001@pbx.example.com", "dlg-1", "tenant-a")

	require.True(t, r.Start(context.Background()).IsOk())
	defer r.Stop()

	r.OnCallStateEvent(CallStateEvent{
		CallID:    "loop-1",
		CallerURI: "sip:2001@pbx.example.com",
		CalleeURI: "sip:2001@pbx.example.com",
		State:     CallStateTrying,
		Valid:     true,
	})

	waitFor(t, func() bool { return r.Stats().EventsProcessed == 1 })
	assert.Len(t, disp.captured(), 1)
}

func TestRouterNoWatchers(t *testing.T) {
	defer goleak.VerifyNone(t)

	disp := &captureDispatcher{}
	r, _ := testRouter(t, disp)
	require.True(t, r.Start(context.Background()).IsOk())
	defer r.Stop()

	r.OnCallStateEvent(CallStateEvent{
		CallID:    "call-1",
		CalleeURI: "sip:nobody@pbx.example.com",
		State:     CallStateRinging,
		Valid:     true,
	})

	waitFor(t, func() bool { return r.Stats().WatchersNotFound == 1 })
	assert.Empty(t, disp.captured())
}

func TestRouterDropsWhenQueueFull(t *testing.T) {
	disp := &captureDispatcher{}
	idx := subscription.NewBLFIndex()
	slow := slowlog.New(zerolog.Nop(), time.Second, 2*time.Second, 5*time.Second)
	r := NewRouter(&config.AppConfig{PresenceMaxPendingEvents: 2}, idx, disp, slow)

	// Not started: nothing drains the queue.
	for i := 0; i < 5; i++ {
		r.OnCallStateEvent(CallStateEvent{CallID: "c", CalleeURI: "sip:a@b", State: CallStateTrying, Valid: true})
	}
	stats := r.Stats()
	assert.Equal(t, uint64(5), stats.EventsReceived)
	assert.Equal(t, uint64(3), stats.EventsDropped)
	assert.Equal(t, 2, stats.QueueDepth)
}

func TestRouterStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _ := testRouter(t, &captureDispatcher{})
	require.True(t, r.Start(context.Background()).IsOk())
	assert.Equal(t, result.AlreadyExists, r.Start(context.Background()))
	r.Stop()
	r.Stop() // idempotent
}
