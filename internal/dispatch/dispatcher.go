// SPDX-License-Identifier: MIT
package dispatch

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// AggregateStats sums worker counters for the stats surface.
type AggregateStats struct {
	Workers          int    `json:"workers"`
	EventsReceived   uint64 `json:"events_received"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	PresenceTriggers uint64 `json:"presence_triggers"`
	DialogsActive    int    `json:"dialogs_active"`
	DialogsReaped    uint64 `json:"dialogs_reaped"`
	SlowEvents       uint64 `json:"slow_events"`
	MaxQueueDepth    int    `json:"max_queue_depth"`
}

// Dispatcher owns the worker pool and shards events by dialog id. The
// shard function is stable for the life of the process, which is what
// keeps per-dialog ordering.
type Dispatcher struct {
	logger  zerolog.Logger
	workers []*Worker
	started atomic.Bool
}

// NewDispatcher builds the pool. Collaborators are shared across workers.
func NewDispatcher(cfg *config.AppConfig, registry *subscription.Registry,
	blfIndex *subscription.BLFIndex, store Store, sender Sender, slow *slowlog.Monitor) *Dispatcher {
	n := cfg.NumWorkers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	d := &Dispatcher{logger: log.WithComponent("dispatcher")}
	for i := 0; i < n; i++ {
		d.workers = append(d.workers, NewWorker(i, cfg, registry, blfIndex, store, sender, slow))
	}
	return d
}

// NumWorkers returns the pool size.
func (d *Dispatcher) NumWorkers() int { return len(d.workers) }

// Worker exposes one shard, used by recovery placement and the reaper.
func (d *Dispatcher) Worker(i int) *Worker { return d.workers[i] }

// WorkerFor returns the shard that owns a dialog id.
func (d *Dispatcher) WorkerFor(dialogID sipevent.DialogID) *Worker {
	return d.workers[dialogID.Shard(len(d.workers))]
}

// Start launches every worker, rolling back the ones already started if
// any fails.
func (d *Dispatcher) Start() result.Code {
	if !d.started.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	for i, w := range d.workers {
		if code := w.Start(); !code.IsOk() {
			for j := 0; j < i; j++ {
				d.workers[j].Stop()
			}
			d.started.Store(false)
			return code
		}
	}
	d.logger.Info().Int("workers", len(d.workers)).Msg("dispatcher started")
	return result.Ok
}

// Stop joins all workers concurrently.
func (d *Dispatcher) Stop() {
	if !d.started.CompareAndSwap(true, false) {
		return
	}
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

// Started reports whether the pool accepts events.
func (d *Dispatcher) Started() bool { return d.started.Load() }

// Dispatch shards an event to its worker.
func (d *Dispatcher) Dispatch(ev *sipevent.Event) result.Code {
	if !d.started.Load() {
		return result.ShuttingDown
	}
	if ev == nil || !ev.DialogID.Valid() {
		return result.InvalidArgument
	}
	ev.EnqueuedAt = time.Now()
	return d.WorkerFor(ev.DialogID).Enqueue(ev)
}

// WorkerStats returns per-worker snapshots.
func (d *Dispatcher) WorkerStats() []WorkerStats {
	out := make([]WorkerStats, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Stats())
	}
	return out
}

// Stats aggregates across the pool.
func (d *Dispatcher) Stats() AggregateStats {
	a := AggregateStats{Workers: len(d.workers)}
	for _, w := range d.workers {
		s := w.Stats()
		a.EventsReceived += s.EventsReceived
		a.EventsProcessed += s.EventsProcessed
		a.EventsDropped += s.EventsDropped
		a.PresenceTriggers += s.PresenceTriggers
		a.DialogsActive += s.DialogsActive
		a.DialogsReaped += s.DialogsReaped
		a.SlowEvents += s.SlowEvents
		if s.QueueDepth > a.MaxQueueDepth {
			a.MaxQueueDepth = s.QueueDepth
		}
	}
	return a
}
