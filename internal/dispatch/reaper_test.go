// SPDX-License-Identifier: MIT
package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

func TestReaperStuckDetection(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h := newHarness(t, testConfig())
	h.startAll(t)
	reaper := NewReaper(testConfig(), h.disp, h.store)
	d := sipevent.DialogID("dlg-stuck")

	require.True(t, h.disp.Dispatch(makeSubscribe(d, "t", "sip:200@t.com", 300)).IsOk())
	waitFor(t, func() bool { return len(h.sender.notifyCalls()) == 1 })

	// Wedge the record: processing started two stuck-timeouts ago.
	w := h.disp.WorkerFor(d)
	w.dialogsMu.Lock()
	dc := w.dialogs[d]
	dc.record.IsProcessing = true
	dc.record.ProcessingStartedAt = time.Now().Add(-2 * testConfig().StuckProcessingTimeout)
	dc.scan = snapshotRecord(dc.record)
	w.dialogsMu.Unlock()

	stale := w.StaleSubscriptions(time.Hour, time.Hour, testConfig().StuckProcessingTimeout)
	require.Len(t, stale, 1)
	assert.True(t, stale[0].Stuck)

	reaper.ScanAndReap()
	assert.Equal(t, uint64(1), reaper.Stats().StuckReaped)
	assert.Zero(t, reaper.Stats().ExpiredReaped)

	waitFor(t, func() bool {
		_, ok := h.registry.Lookup(d)
		return !ok
	})
	assert.Contains(t, h.store.deleted(), d)
}

func TestReaperExpiredSubscription(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h := newHarness(t, testConfig())
	h.startAll(t)
	reaper := NewReaper(testConfig(), h.disp, h.store)
	d := sipevent.DialogID("dlg-expired")

	require.True(t, h.disp.Dispatch(makeSubscribe(d, "t", "sip:200@t.com", 300)).IsOk())
	waitFor(t, func() bool { return len(h.sender.notifyCalls()) == 1 })

	w := h.disp.WorkerFor(d)
	w.dialogsMu.Lock()
	dc := w.dialogs[d]
	dc.record.ExpiresAt = time.Now().Add(-time.Minute)
	dc.scan = snapshotRecord(dc.record)
	w.dialogsMu.Unlock()

	reaper.ScanAndReap()
	assert.Equal(t, uint64(1), reaper.Stats().ExpiredReaped)
	waitFor(t, func() bool {
		_, ok := h.registry.Lookup(d)
		return !ok
	})

	// The active watcher got a terminal NOTIFY on the way out.
	waitFor(t, func() bool { return len(h.sender.notifyCalls()) >= 2 })
	last := h.sender.notifyCalls()[len(h.sender.notifyCalls())-1]
	assert.Contains(t, last.SubscriptionState, "terminated")
}

func TestReaperIgnoresHealthySubscriptions(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h := newHarness(t, testConfig())
	h.startAll(t)
	reaper := NewReaper(testConfig(), h.disp, h.store)

	require.True(t, h.disp.Dispatch(makeSubscribe("dlg-ok", "t", "sip:200@t.com", 300)).IsOk())
	waitFor(t, func() bool { return len(h.sender.notifyCalls()) == 1 })

	reaper.ScanAndReap()
	assert.Zero(t, reaper.Stats().ExpiredReaped)
	assert.Zero(t, reaper.Stats().StuckReaped)
	_, ok := h.registry.Lookup("dlg-ok")
	assert.True(t, ok)
}

func TestReaperStartStop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h := newHarness(t, testConfig())
	reaper := NewReaper(testConfig(), h.disp, h.store)
	require.True(t, reaper.Start(context.Background()).IsOk())
	assert.False(t, reaper.Start(context.Background()).IsOk())
	reaper.Stop()
	reaper.Stop()
}

func TestStaleSkipsTerminated(t *testing.T) {
	h := newHarness(t, testConfig())
	w := h.disp.Worker(0)

	rec := subscription.NewRecord("dlg-dead", "t", sipevent.KindBLF)
	rec.Lifecycle = subscription.LifecycleTerminated
	rec.ExpiresAt = time.Now().Add(-time.Hour)
	w.dialogs["dlg-dead"] = &dialogContext{record: rec, scan: snapshotRecord(rec)}

	assert.Empty(t, w.StaleSubscriptions(time.Hour, time.Hour, time.Second))
}

// The scan runs on the reaper goroutine while the worker mutates records;
// it must read only the published snapshots.
func TestStaleScanConcurrentWithProcessing(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	h := newHarness(t, testConfig())
	h.startAll(t)
	d := sipevent.DialogID("dlg-scan")

	require.True(t, h.disp.Dispatch(makeSubscribe(d, "t", "sip:200@t.com", 300)).IsOk())
	waitFor(t, func() bool { return len(h.sender.notifyCalls()) == 1 })

	w := h.disp.WorkerFor(d)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				w.StaleSubscriptions(time.Hour, time.Hour, time.Second)
			}
		}
	}()

	for i := 0; i < 8; i++ {
		require.True(t, h.disp.Dispatch(makeSubscribe(d, "t", "sip:200@t.com", 300)).IsOk())
	}
	waitFor(t, func() bool {
		s := w.Stats()
		return s.EventsProcessed == s.EventsReceived
	})
	close(stop)
	wg.Wait()
}
