// SPDX-License-Identifier: MIT
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Badareenadh/sip-event-processor/internal/config"
	"github.com/Badareenadh/sip-event-processor/internal/log"
	"github.com/Badareenadh/sip-event-processor/internal/metrics"
	"github.com/Badareenadh/sip-event-processor/internal/result"
)

// ReaperStats is a counter snapshot for the stats surface.
type ReaperStats struct {
	Scans          uint64 `json:"scans"`
	ExpiredReaped  uint64 `json:"expired_reaped"`
	StuckReaped    uint64 `json:"stuck_reaped"`
	LastScanStale  uint64 `json:"last_scan_stale"`
	LastScanMillis int64  `json:"last_scan_ms"`
}

// Reaper periodically sweeps every worker for subscriptions that expired,
// went quiet past their package TTL, or wedged mid-processing, and
// schedules them for termination on their owning worker.
type Reaper struct {
	logger zerolog.Logger
	cfg    *config.AppConfig
	disp   *Dispatcher
	store  Store

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	scans         atomic.Uint64
	expiredReaped atomic.Uint64
	stuckReaped   atomic.Uint64
	lastStale     atomic.Uint64
	lastMillis    atomic.Int64
}

func NewReaper(cfg *config.AppConfig, disp *Dispatcher, store Store) *Reaper {
	return &Reaper{
		logger: log.WithComponent("reaper"),
		cfg:    cfg,
		disp:   disp,
		store:  store,
	}
}

// Start launches the scan loop.
func (r *Reaper) Start(ctx context.Context) result.Code {
	if !r.running.CompareAndSwap(false, true) {
		return result.AlreadyExists
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(runCtx)
	r.logger.Info().Dur("interval", r.cfg.ReaperScanInterval).Msg("reaper started")
	return result.Ok
}

// Stop halts the scan loop.
func (r *Reaper) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("reaper stopped")
}

// Stats returns a counter snapshot.
func (r *Reaper) Stats() ReaperStats {
	return ReaperStats{
		Scans:          r.scans.Load(),
		ExpiredReaped:  r.expiredReaped.Load(),
		StuckReaped:    r.stuckReaped.Load(),
		LastScanStale:  r.lastStale.Load(),
		LastScanMillis: r.lastMillis.Load(),
	}
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.ReaperScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ScanAndReap()
		}
	}
}

// ScanAndReap runs one sweep. Exported so the admin surface can force a
// scan outside the schedule.
func (r *Reaper) ScanAndReap() {
	start := time.Now()
	r.scans.Add(1)

	var total, expired, stuck int
	for i := 0; i < r.disp.NumWorkers(); i++ {
		w := r.disp.Worker(i)
		stale := w.StaleSubscriptions(
			r.cfg.BLFSubscriptionTTL,
			r.cfg.MWISubscriptionTTL,
			r.cfg.StuckProcessingTimeout)

		for _, info := range stale {
			if info.Stuck {
				stuck++
				r.stuckReaped.Add(1)
				r.logger.Warn().
					Str(log.FieldDialogID, string(info.DialogID)).
					Str(log.FieldTenantID, info.TenantID).
					Msg("stuck subscription reaped")
			} else {
				expired++
				r.expiredReaped.Add(1)
			}
			w.ForceTerminate(info.DialogID)
			r.store.QueueDelete(info.DialogID)
			total++
		}
	}

	elapsed := time.Since(start)
	r.lastStale.Store(uint64(total))
	r.lastMillis.Store(elapsed.Milliseconds())
	metrics.RecordReaperScan(expired, stuck, elapsed)

	if total > 0 {
		r.logger.Info().
			Int("reaped", total).
			Int("stuck", stuck).
			Dur("elapsed", elapsed).
			Msg("scan complete")
	}
}
