// SPDX-License-Identifier: MIT

// Package dispatch owns the sharded dialog-worker pool: per-dialog FIFO
// event processing, subscription admission, lifecycle bookkeeping, and the
// stale-subscription reaper.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// Sender writes back into SIP dialogs. The SIP stack implements it; tests
// substitute fakes.
type Sender interface {
	// RespondSubscribe answers the transaction behind an incoming
	// SUBSCRIBE. Expires < 0 omits the header.
	RespondSubscribe(h sipevent.Handle, status int, phrase string, expires int) result.Code
	// SendNotify emits a NOTIFY inside the subscription dialog. The
	// record carries the dialog coordinates; h may be nil after a
	// recovery, in which case the sender reconstructs the route.
	SendNotify(rec *subscription.Record, h sipevent.Handle, contentType, body, subscriptionState string) result.Code
}

// Store is the persistence sink the worker feeds. Implemented by the
// subscription store; a disabled store turns every call into a no-op.
type Store interface {
	Enabled() bool
	QueueUpsert(rec *subscription.Record)
	SaveImmediately(rec *subscription.Record)
	QueueDelete(dialogID sipevent.DialogID)
}

// dialogContext is everything one worker holds for one dialog. The scan
// snapshot is the only part another goroutine reads; the record itself
// stays single-goroutine.
type dialogContext struct {
	record *subscription.Record
	queue  []*sipevent.Event
	handle sipevent.Handle
	scan   reapSnapshot
}

// reapSnapshot is the reaper's view of a record, republished under
// dialogsMu after every mutation so the cross-goroutine scan never
// touches live record fields.
type reapSnapshot struct {
	kind         sipevent.SubscriptionKind
	tenantID     string
	lifecycle    subscription.Lifecycle
	lastActivity time.Time
	expiresAt    time.Time
	processing   bool
	processingAt time.Time
}

func snapshotRecord(rec *subscription.Record) reapSnapshot {
	return reapSnapshot{
		kind:         rec.Kind,
		tenantID:     rec.TenantID,
		lifecycle:    rec.Lifecycle,
		lastActivity: rec.LastActivity,
		expiresAt:    rec.ExpiresAt,
		processing:   rec.IsProcessing,
		processingAt: rec.ProcessingStartedAt,
	}
}

// StaleInfo describes a subscription the reaper should terminate.
type StaleInfo struct {
	DialogID     sipevent.DialogID
	TenantID     string
	Kind         sipevent.SubscriptionKind
	Lifecycle    subscription.Lifecycle
	LastActivity time.Time
	Stuck        bool
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	Worker           int    `json:"worker"`
	EventsReceived   uint64 `json:"events_received"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	PresenceTriggers uint64 `json:"presence_triggers"`
	DialogsActive    int    `json:"dialogs_active"`
	DialogsReaped    uint64 `json:"dialogs_reaped"`
	SlowEvents       uint64 `json:"slow_events"`
	QueueDepth       int    `json:"queue_depth"`
}

// cleanupInterval is the pass count between terminated-context sweeps.
const cleanupInterval = 1000

// Worker owns one shard of the dialog space. A single goroutine runs the
// loop; dialogsMu guards the map and the per-dialog scan snapshots the
// reaper reads.
type Worker struct {
	index  int
	cfg    *config.AppConfig
	logger zerolog.Logger

	blf *subscription.BLFProcessor
	mwi *subscription.MWIProcessor

	registry *subscription.Registry
	blfIndex *subscription.BLFIndex
	store    Store
	sender   Sender
	slow     *slowlog.Monitor

	inbound chan *sipevent.Event

	terminateMu sync.Mutex
	terminates  []sipevent.DialogID

	dialogsMu sync.Mutex
	dialogs   map[sipevent.DialogID]*dialogContext

	running  atomic.Bool
	stopping atomic.Bool
	stopCh   chan struct{}
	done     chan struct{}

	passCount uint64

	eventsReceived   atomic.Uint64
	eventsProcessed  atomic.Uint64
	eventsDropped    atomic.Uint64
	presenceTriggers atomic.Uint64
	dialogsReaped    atomic.Uint64
	slowEvents       atomic.Uint64
}

// NewWorker builds one shard worker. All collaborators are shared across
// the pool; the dialogs map is this worker's alone.
func NewWorker(index int, cfg *config.AppConfig, registry *subscription.Registry,
	blfIndex *subscription.BLFIndex, store Store, sender Sender, slow *slowlog.Monitor) *Worker {
	return &Worker{
		index:    index,
		cfg:      cfg,
		logger:   log.Derive(func(c *zerolog.Context) { *c = c.Str(log.FieldComponent, "worker").Int(log.FieldWorker, index) }),
		blf:      subscription.NewBLFProcessor(int(cfg.BLFSubscriptionTTL / time.Second)),
		mwi:      subscription.NewMWIProcessor(int(cfg.MWISubscriptionTTL / time.Second)),
		registry: registry,
		blfIndex: blfIndex,
		store:    store,
		sender:   sender,
		slow:     slow,
		inbound:  make(chan *sipevent.Event, cfg.MaxQueuePerWorker),
		dialogs:  make(map[sipevent.DialogID]*dialogContext),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() result.Code {
	if !w.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	w.stopping.Store(false)
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.run()
	return result.Ok
}

// Stop signals the loop and waits for it to drain and exit.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.stopping.Store(true)
	close(w.stopCh)
	<-w.done

	// Deindex everything this worker owned so a restart starts clean.
	w.dialogsMu.Lock()
	for did, ctx := range w.dialogs {
		if ctx.record.Kind == sipevent.KindBLF {
			w.blfIndex.RemoveDialog(did)
		}
		if ctx.handle != nil {
			ctx.handle.Release()
		}
	}
	w.dialogs = make(map[sipevent.DialogID]*dialogContext)
	w.dialogsMu.Unlock()
}

// Enqueue hands an event to this worker. Never blocks: a full queue is
// backpressure reported to the producer.
func (w *Worker) Enqueue(ev *sipevent.Event) result.Code {
	if w.stopping.Load() || !w.running.Load() {
		return result.ShuttingDown
	}
	select {
	case w.inbound <- ev:
		w.eventsReceived.Add(1)
		metrics.SetWorkerQueueDepth(w.index, len(w.inbound))
		return result.Ok
	default:
		w.eventsDropped.Add(1)
		metrics.IncEventDropped("queue_full")
		return result.CapacityExceeded
	}
}

// ForceTerminate schedules a dialog for termination on the next pass. Used
// by the reaper and the admin surface.
func (w *Worker) ForceTerminate(dialogID sipevent.DialogID) result.Code {
	w.terminateMu.Lock()
	w.terminates = append(w.terminates, dialogID)
	w.terminateMu.Unlock()
	return result.Ok
}

// LoadRecovered installs a persisted subscription before Start. The
// notify version is advanced once so versions a watcher already saw from
// the failed peer are never reused, even if the last increment was lost to
// batching.
func (w *Worker) LoadRecovered(rec *subscription.Record) result.Code {
	if w.running.Load() {
		return result.InvalidArgument
	}
	rec.NotifyVersion++
	rec.NeedsFullStateNotify = true

	if rec.Kind == sipevent.KindBLF && rec.BLFMonitoredURI != "" {
		w.blfIndex.Add(rec.BLFMonitoredURI, rec.DialogID, rec.TenantID)
	}
	w.registry.Register(subscription.Info{
		DialogID:     rec.DialogID,
		TenantID:     rec.TenantID,
		Kind:         rec.Kind,
		Lifecycle:    rec.Lifecycle,
		LastActivity: rec.LastActivity,
		WorkerIndex:  w.index,
	})

	w.dialogsMu.Lock()
	w.dialogs[rec.DialogID] = &dialogContext{record: rec, scan: snapshotRecord(rec)}
	w.dialogsMu.Unlock()

	w.logger.Debug().
		Str(log.FieldDialogID, string(rec.DialogID)).
		Str(log.FieldPackage, rec.Kind.String()).
		Msg("recovered subscription")
	return result.Ok
}

// Stats returns a counter snapshot.
func (w *Worker) Stats() WorkerStats {
	w.dialogsMu.Lock()
	active := len(w.dialogs)
	w.dialogsMu.Unlock()
	return WorkerStats{
		Worker:           w.index,
		EventsReceived:   w.eventsReceived.Load(),
		EventsProcessed:  w.eventsProcessed.Load(),
		EventsDropped:    w.eventsDropped.Load(),
		PresenceTriggers: w.presenceTriggers.Load(),
		DialogsActive:    active,
		DialogsReaped:    w.dialogsReaped.Load(),
		SlowEvents:       w.slowEvents.Load(),
		QueueDepth:       len(w.inbound),
	}
}

// StaleSubscriptions scans for dialogs past their package TTL, past their
// expiry, or stuck mid-processing. Called by the reaper across
// goroutines; reads only the published snapshots.
func (w *Worker) StaleSubscriptions(blfTTL, mwiTTL, stuckTimeout time.Duration) []StaleInfo {
	w.dialogsMu.Lock()
	defer w.dialogsMu.Unlock()

	var stale []StaleInfo
	now := time.Now()
	for did, ctx := range w.dialogs {
		sc := ctx.scan
		if sc.lifecycle == subscription.LifecycleTerminated {
			continue
		}
		ttl := mwiTTL
		if sc.kind == sipevent.KindBLF {
			ttl = blfTTL
		}
		stuck := sc.processing && !sc.processingAt.IsZero() &&
			now.Sub(sc.processingAt) > stuckTimeout
		expired := !sc.expiresAt.IsZero() && now.After(sc.expiresAt)
		if now.Sub(sc.lastActivity) > ttl || expired || stuck {
			stale = append(stale, StaleInfo{
				DialogID:     did,
				TenantID:     sc.tenantID,
				Kind:         sc.kind,
				Lifecycle:    sc.lifecycle,
				LastActivity: sc.lastActivity,
				Stuck:        stuck,
			})
		}
	}
	return stale
}

// publishScan republishes the reaper's snapshot of a record.
func (w *Worker) publishScan(ctx *dialogContext) {
	w.dialogsMu.Lock()
	ctx.scan = snapshotRecord(ctx.record)
	w.dialogsMu.Unlock()
}

func (w *Worker) run() {
	defer close(w.done)
	w.logger.Info().Msg("worker started")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var batch []*sipevent.Event
	for {
		batch = batch[:0]

		select {
		case <-w.stopCh:
			w.drainInbound(&batch)
			w.distribute(batch)
			// Accepted events finish before exit, however deep the
			// per-dialog backlogs run.
			for w.processDialogQueues() > 0 {
			}
			w.logger.Info().Msg("worker stopped")
			return
		case ev := <-w.inbound:
			batch = append(batch, ev)
			w.drainInbound(&batch)
		case <-ticker.C:
		}
		metrics.SetWorkerQueueDepth(w.index, len(w.inbound))

		w.applyForceTerminates()
		w.distribute(batch)
		w.processDialogQueues()

		w.passCount++
		if w.passCount%cleanupInterval == 0 {
			w.cleanupTerminated()
		}
	}
}

func (w *Worker) drainInbound(batch *[]*sipevent.Event) {
	for {
		select {
		case ev := <-w.inbound:
			*batch = append(*batch, ev)
		default:
			return
		}
	}
}

func (w *Worker) applyForceTerminates() {
	w.terminateMu.Lock()
	terminates := w.terminates
	w.terminates = nil
	w.terminateMu.Unlock()

	for _, did := range terminates {
		w.dialogsMu.Lock()
		ctx, ok := w.dialogs[did]
		w.dialogsMu.Unlock()
		if !ok {
			continue
		}

		rec := ctx.record
		if rec.Kind == sipevent.KindBLF {
			w.blfIndex.RemoveDialog(did)
		}
		// A watcher that reached Active gets told why its dialog died,
		// but only on a live dialog: recovered records have no handle.
		if rec.Lifecycle == subscription.LifecycleActive && ctx.handle != nil {
			w.sendTerminalNotify(ctx, "terminated;reason=timeout")
		}
		rec.TransitionTo(subscription.LifecycleTerminated)
		w.registry.Unregister(did)
		w.store.QueueDelete(did)
		ctx.queue = nil
		if ctx.handle != nil {
			ctx.handle.Release()
			ctx.handle = nil
		}
		w.dialogsReaped.Add(1)
		w.publishScan(ctx)
		metrics.IncSubscriptionTerminated("reaped")

		w.logger.Info().
			Str(log.FieldDialogID, string(did)).
			Str(log.FieldTenantID, rec.TenantID).
			Msg("force terminated")
	}
}

func (w *Worker) distribute(batch []*sipevent.Event) {
	for _, ev := range batch {
		w.dialogsMu.Lock()
		ctx, known := w.dialogs[ev.DialogID]
		w.dialogsMu.Unlock()

		if !known {
			if ev.Source == sipevent.SourcePresenceFeed {
				// Trigger raced a termination; nothing to notify.
				w.eventsDropped.Add(1)
				metrics.IncEventDropped("unknown_dialog")
				continue
			}
			ctx = w.admit(ev)
			if ctx == nil {
				w.eventsDropped.Add(1)
				continue
			}
		}
		ctx.queue = append(ctx.queue, ev)
	}
}

// admit runs new-subscription admission for an unknown dialog. Rejections
// are answered on the SIP transaction before the event is dropped.
func (w *Worker) admit(ev *sipevent.Event) *dialogContext {
	reject := func(status int, phrase, reason string) *dialogContext {
		metrics.IncAdmissionRejected(reason)
		if ev.Handle != nil {
			w.sender.RespondSubscribe(ev.Handle, status, phrase, -1)
			ev.Handle.Release()
			ev.Handle = nil
		}
		w.logger.Warn().
			Str(log.FieldDialogID, string(ev.DialogID)).
			Str(log.FieldTenantID, ev.TenantID).
			Str("reason", reason).
			Msg("subscription rejected")
		return nil
	}

	if ev.Kind == sipevent.KindUnknown {
		return reject(489, "Bad Event", "bad_event")
	}
	if w.registry.CountByTenant(ev.TenantID) >= w.cfg.MaxSubscriptionsPerTenant {
		return reject(403, "Forbidden", "tenant_quota")
	}
	w.dialogsMu.Lock()
	full := len(w.dialogs) >= w.cfg.MaxDialogsPerWorker
	w.dialogsMu.Unlock()
	if full {
		return reject(503, "Service Unavailable", "worker_saturated")
	}

	rec := subscription.NewRecord(ev.DialogID, ev.TenantID, ev.Kind)
	rec.FromURI = ev.FromURI
	rec.FromTag = ev.FromTag
	rec.ToURI = ev.ToURI
	rec.ToTag = ev.ToTag
	rec.CallID = ev.CallID
	rec.ContactURI = ev.ContactURI
	if ev.Expires > 0 {
		rec.SetExpiresIn(ev.Expires)
	}
	switch ev.Kind {
	case sipevent.KindBLF:
		rec.BLFMonitoredURI = subscription.NormalizeURI(ev.ToURI)
	case sipevent.KindMWI:
		rec.MWIAccountURI = subscription.NormalizeURI(ev.ToURI)
	}

	w.registry.Register(subscription.Info{
		DialogID:     ev.DialogID,
		TenantID:     ev.TenantID,
		Kind:         ev.Kind,
		Lifecycle:    subscription.LifecyclePending,
		LastActivity: rec.LastActivity,
		WorkerIndex:  w.index,
	})
	w.store.SaveImmediately(rec)
	metrics.IncSubscriptionCreated(ev.Kind.String())

	ctx := &dialogContext{record: rec, scan: snapshotRecord(rec)}
	w.dialogsMu.Lock()
	w.dialogs[ev.DialogID] = ctx
	w.dialogsMu.Unlock()

	w.logger.Info().
		Str(log.FieldDialogID, string(ev.DialogID)).
		Str(log.FieldTenantID, ev.TenantID).
		Str(log.FieldPackage, ev.Kind.String()).
		Msg("subscription admitted")
	return ctx
}

// processDialogQueues runs one event from each non-empty dialog queue:
// at-most-one per dialog per pass keeps one chatty dialog from starving
// the shard. Returns the number of dialogs served.
func (w *Worker) processDialogQueues() int {
	w.dialogsMu.Lock()
	ready := make([]*dialogContext, 0, len(w.dialogs))
	for _, ctx := range w.dialogs {
		if len(ctx.queue) > 0 {
			ready = append(ready, ctx)
		}
	}
	w.dialogsMu.Unlock()

	for _, ctx := range ready {
		ev := ctx.queue[0]
		ctx.queue = ctx.queue[1:]
		w.processEvent(ctx, ev)
	}
	return len(ready)
}

func (w *Worker) processEvent(ctx *dialogContext, ev *sipevent.Event) {
	rec := ctx.record
	ev.DequeuedAt = time.Now()
	rec.IsProcessing = true
	rec.ProcessingStartedAt = ev.DequeuedAt
	rec.Touch()
	rec.EventsProcessed++
	w.publishScan(ctx)

	// The latest handle is the one we answer and notify on.
	if ev.Handle != nil {
		if ctx.handle != nil && ctx.handle != ev.Handle {
			ctx.handle.Release()
		}
		ctx.handle = ev.Handle
	}

	timer := w.slow.Start(string(rec.DialogID), fmt.Sprintf("%s %s", ev.Category, rec.Kind))

	if rec.Kind == sipevent.KindUnknown && ev.Kind != sipevent.KindUnknown {
		rec.Kind = ev.Kind
	}

	before := rec.Lifecycle
	var action subscription.NotifyAction
	var code result.Code

	if ev.Source == sipevent.SourcePresenceFeed {
		action, code = w.blf.Process(rec, ev)
		w.presenceTriggers.Add(1)
	} else {
		switch rec.Kind {
		case sipevent.KindBLF:
			action, code = w.blf.Process(rec, ev)
		case sipevent.KindMWI:
			action, code = w.mwi.Process(rec, ev)
		default:
			code = result.InvalidArgument
		}
	}
	if !code.IsOk() {
		w.logger.Debug().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str("code", code.String()).
			Msg("processor declined event")
	}

	w.applyLifecycle(ctx, ev, before, action)

	rec.IsProcessing = false
	w.publishScan(ctx)

	elapsed := timer.Stop()
	metrics.ObserveEventProcessing(elapsed)
	if warn, _, _ := w.slow.Thresholds(); elapsed >= warn {
		w.slowEvents.Add(1)
	}
	w.eventsProcessed.Add(1)
	metrics.IncEventsProcessed(w.index)
}

// applyLifecycle turns the processor's record mutations into the visible
// side effects: SIP responses, NOTIFYs, index and registry updates,
// persistence.
func (w *Worker) applyLifecycle(ctx *dialogContext, ev *sipevent.Event, before subscription.Lifecycle, action subscription.NotifyAction) {
	rec := ctx.record
	isSubscribeIn := ev.Category == sipevent.CategorySubscribe && ev.Direction == sipevent.DirectionIncoming

	switch {
	case rec.Lifecycle >= subscription.LifecycleTerminating:
		if rec.Kind == sipevent.KindBLF {
			w.blfIndex.RemoveDialog(rec.DialogID)
		}
		if isSubscribeIn {
			w.sender.RespondSubscribe(ctx.handle, 200, "OK", 0)
		}
		notifyRejected := ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionOutgoing
		if action.ShouldNotify {
			w.sendNotify(ctx, action)
		} else if before == subscription.LifecycleActive &&
			rec.Lifecycle == subscription.LifecycleTerminating && !notifyRejected {
			w.sendTerminalNotify(ctx, "terminated;reason=noresource")
		}
		rec.TransitionTo(subscription.LifecycleTerminated)
		w.registry.Unregister(rec.DialogID)
		w.store.SaveImmediately(rec)
		w.store.QueueDelete(rec.DialogID)
		if ctx.handle != nil {
			ctx.handle.Release()
			ctx.handle = nil
		}
		metrics.IncSubscriptionTerminated(terminationReason(ev))

	case before == subscription.LifecyclePending && rec.Lifecycle == subscription.LifecycleActive:
		if rec.Kind == sipevent.KindBLF && rec.BLFMonitoredURI != "" {
			w.blfIndex.Add(rec.BLFMonitoredURI, rec.DialogID, rec.TenantID)
		}
		w.registry.Register(subscription.Info{
			DialogID:     rec.DialogID,
			TenantID:     rec.TenantID,
			Kind:         rec.Kind,
			Lifecycle:    rec.Lifecycle,
			LastActivity: rec.LastActivity,
			WorkerIndex:  w.index,
		})
		if isSubscribeIn {
			w.sender.RespondSubscribe(ctx.handle, 200, "OK", rec.RemainingExpiry(ev.Expires))
		}
		if action.ShouldNotify {
			w.sendNotify(ctx, action)
		}
		w.store.SaveImmediately(rec)
		rec.Dirty = false

	default:
		if isSubscribeIn {
			w.sender.RespondSubscribe(ctx.handle, 200, "OK", rec.RemainingExpiry(ev.Expires))
		}
		if action.ShouldNotify {
			w.sendNotify(ctx, action)
		}
		if rec.Dirty {
			w.store.QueueUpsert(rec)
			rec.Dirty = false
		}
	}
}

func (w *Worker) sendNotify(ctx *dialogContext, action subscription.NotifyAction) {
	rec := ctx.record
	rec.NotifyCSeq++
	code := w.sender.SendNotify(rec, ctx.handle, action.ContentType, action.Body, action.SubscriptionState)
	metrics.ObserveNotifyBody(len(action.Body))
	if code.IsOk() {
		metrics.IncNotifySent(rec.Kind.EventPackage(), nil)
	} else {
		rec.NotifyErrors++
		metrics.IncNotifySent(rec.Kind.EventPackage(), fmt.Errorf("send failed: %s", code))
		w.logger.Warn().
			Str(log.FieldDialogID, string(rec.DialogID)).
			Str("code", code.String()).
			Msg("notify send failed")
	}
}

// sendTerminalNotify emits the package-appropriate terminal body.
func (w *Worker) sendTerminalNotify(ctx *dialogContext, subscriptionState string) {
	rec := ctx.record
	var action subscription.NotifyAction
	switch rec.Kind {
	case sipevent.KindBLF:
		action = subscription.NotifyAction{
			ShouldNotify:      true,
			Body:              subscription.BuildEmptyDialogInfo(rec.BLFMonitoredURI, rec.NextNotifyVersion()),
			ContentType:       "application/dialog-info+xml",
			SubscriptionState: subscriptionState,
		}
	case sipevent.KindMWI:
		action = subscription.NotifyAction{
			ShouldNotify:      true,
			Body:              subscription.BuildMessageSummary(false, rec.MWIAccountURI, 0, 0),
			ContentType:       "application/simple-message-summary",
			SubscriptionState: subscriptionState,
		}
	default:
		return
	}
	w.sendNotify(ctx, action)
}

func (w *Worker) cleanupTerminated() {
	w.dialogsMu.Lock()
	defer w.dialogsMu.Unlock()

	cleaned := 0
	for did, ctx := range w.dialogs {
		rec := ctx.record
		done := (rec.Lifecycle == subscription.LifecycleTerminated || rec.IsExpired()) && len(ctx.queue) == 0
		if !done {
			continue
		}
		if rec.Kind == sipevent.KindBLF {
			w.blfIndex.RemoveDialog(did)
		}
		w.registry.Unregister(did)
		if ctx.handle != nil {
			ctx.handle.Release()
			ctx.handle = nil
		}
		delete(w.dialogs, did)
		cleaned++
	}
	if cleaned > 0 {
		w.logger.Debug().Int("cleaned", cleaned).Msg("terminated dialogs collected")
	}
}

func terminationReason(ev *sipevent.Event) string {
	switch {
	case ev.IsUnsubscribe():
		return "unsubscribe"
	case ev.Category == sipevent.CategoryNotify && ev.Direction == sipevent.DirectionOutgoing:
		return "notify_rejected"
	default:
		return "remote_terminated"
	}
}
