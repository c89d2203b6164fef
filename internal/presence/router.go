// SPDX-License-Identifier: MIT
package presence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
	"github.com/Badareenadh/sip-event-processor/internal/sipevent"
	"github.com/Badareenadh/sip-event-processor/internal/slowlog"
	"github.com/Badareenadh/sip-event-processor/internal/subscription"
)

// Dispatcher is the sink for per-watcher trigger events. The dialog
// dispatcher implements this.
type Dispatcher interface {
	Dispatch(ev *sipevent.Event) result.Code
}

// RouterStats is a counter snapshot for the stats surface.
type RouterStats struct {
	EventsReceived         uint64 `json:"events_received"`
	EventsProcessed        uint64 `json:"events_processed"`
	EventsDropped          uint64 `json:"events_dropped"`
	WatchersNotFound       uint64 `json:"watchers_not_found"`
	NotificationsGenerated uint64 `json:"notifications_generated"`
	QueueDepth             int    `json:"queue_depth"`
}

// Router fans feed events out to the watchers of the URIs a call touches.
// One goroutine drains a bounded queue; when the queue is full, events are
// dropped rather than blocking the client's read loop. BLF is last-writer-
// wins, so a dropped intermediate state is corrected by the next event.
type Router struct {
	logger  zerolog.Logger
	index   *subscription.BLFIndex
	disp    Dispatcher
	slow    *slowlog.Monitor
	queue   chan CallStateEvent
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	eventsReceived   atomic.Uint64
	eventsProcessed  atomic.Uint64
	eventsDropped    atomic.Uint64
	watchersNotFound atomic.Uint64
	notifications    atomic.Uint64
}

// NewRouter builds a router over the shared watcher index.
func NewRouter(cfg *config.AppConfig, index *subscription.BLFIndex, disp Dispatcher, slow *slowlog.Monitor) *Router {
	return &Router{
		logger: log.WithComponent("presence_router"),
		index:  index,
		disp:   disp,
		slow:   slow,
		queue:  make(chan CallStateEvent, cfg.PresenceMaxPendingEvents),
	}
}

// Start launches the routing goroutine.
func (r *Router) Start(ctx context.Context) result.Code {
	if !r.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(runCtx)
	r.logger.Info().Msg("presence router started")
	return result.Ok
}

// Stop drains nothing: queued events are abandoned, the next feed event
// after restart re-establishes state.
func (r *Router) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("presence router stopped")
}

// Stats returns a counter snapshot.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsReceived:         r.eventsReceived.Load(),
		EventsProcessed:        r.eventsProcessed.Load(),
		EventsDropped:          r.eventsDropped.Load(),
		WatchersNotFound:       r.watchersNotFound.Load(),
		NotificationsGenerated: r.notifications.Load(),
		QueueDepth:             len(r.queue),
	}
}

// OnCallStateEvent implements EventHandler. Called from the client's read
// goroutine; must never block.
func (r *Router) OnCallStateEvent(ev CallStateEvent) {
	r.eventsReceived.Add(1)
	metrics.IncPresenceEvent(ev.State.String())

	select {
	case r.queue <- ev:
	default:
		r.eventsDropped.Add(1)
		metrics.IncPresenceEventDropped()
		r.logger.Warn().Str(log.FieldCallID, ev.CallID).Msg("queue full, dropping event")
	}
}

// OnConnectionStateChanged implements EventHandler.
func (r *Router) OnConnectionStateChanged(connected bool, detail string) {
	r.logger.Info().Bool("connected", connected).Str("detail", detail).Msg("feed connection state changed")
}

func (r *Router) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.route(ev)
		}
	}
}

// route finds every watcher observing either leg of the call and feeds a
// trigger into each watcher's dialog.
func (r *Router) route(ev CallStateEvent) {
	if !ev.Valid {
		return
	}
	timer := r.slow.Start(ev.CallID, "presence_route")
	defer timer.Stop()

	calleeWatchers := r.index.Lookup(ev.CalleeURI)
	callerWatchers := r.index.Lookup(ev.CallerURI)

	if len(calleeWatchers) == 0 && len(callerWatchers) == 0 {
		r.watchersNotFound.Add(1)
		r.eventsProcessed.Add(1)
		metrics.IncPresenceWatchersNotFound()
		return
	}

	r.logger.Debug().
		Str(log.FieldCallID, ev.CallID).
		Str(log.FieldNewState, ev.State.String()).
		Int("watchers", len(calleeWatchers)+len(callerWatchers)).
		Msg("routing call state")

	seen := make(map[sipevent.DialogID]struct{}, len(calleeWatchers)+len(callerWatchers))
	dispatched := 0
	for _, watchers := range [][]subscription.Watcher{calleeWatchers, callerWatchers} {
		for _, w := range watchers {
			if _, dup := seen[w.DialogID]; dup {
				continue
			}
			seen[w.DialogID] = struct{}{}

			trigger := sipevent.NewPresenceTrigger(
				w.DialogID, w.TenantID,
				ev.CallID, ev.CallerURI, ev.CalleeURI,
				ev.State.String(), ev.Direction, "")
			if code := r.disp.Dispatch(trigger); code.IsOk() {
				dispatched++
			} else {
				r.logger.Warn().
					Str(log.FieldDialogID, string(w.DialogID)).
					Str("code", code.String()).
					Msg("trigger dispatch failed")
			}
		}
	}

	r.notifications.Add(uint64(dispatched))
	metrics.AddPresenceNotifications(dispatched)
	r.eventsProcessed.Add(1)
}
