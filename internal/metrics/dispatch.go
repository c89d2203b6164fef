// SPDX-License-Identifier: MIT
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sipevd_subscriptions_active",
		Help: "Subscriptions currently tracked by lifecycle state",
	}, []string{"package", "lifecycle"})

	subscriptionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_subscriptions_created_total",
		Help: "Subscriptions admitted by event package",
	}, []string{"package"})

	subscriptionsTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_subscriptions_terminated_total",
		Help: "Subscriptions terminated by reason",
	}, []string{"reason"}) // reason=unsubscribe|expired|stuck|notify_failure|shutdown|error

	admissionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_admission_rejected_total",
		Help: "SUBSCRIBE admissions rejected by reason",
	}, []string{"reason"}) // reason=tenant_quota|worker_saturation|bad_event

	workerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sipevd_worker_queue_depth",
		Help: "Events waiting in each worker inbound queue",
	}, []string{"worker"})

	eventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_events_processed_total",
		Help: "Events fully processed per worker",
	}, []string{"worker"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_events_dropped_total",
		Help: "Events dropped before processing by reason",
	}, []string{"reason"}) // reason=queue_full|unknown_dialog|shutdown

	eventProcessingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sipevd_event_processing_seconds",
		Help:    "Wall time spent processing one event",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	slowEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_slow_events_total",
		Help: "Events exceeding a slow-processing threshold by severity",
	}, []string{"severity"}) // severity=warn|error|critical

	reaperReapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_reaper_reaped_total",
		Help: "Subscriptions force-terminated by the reaper",
	}, []string{"kind"}) // kind=expired|stuck

	reaperScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_reaper_scans_total",
		Help: "Reaper scan passes completed",
	})

	reaperScanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sipevd_reaper_scan_seconds",
		Help:    "Duration of one reaper scan across all workers",
		Buckets: prometheus.DefBuckets,
	})
)

func SetSubscriptionsActive(pkg, lifecycle string, n int) {
	subscriptionsActive.WithLabelValues(pkg, lifecycle).Set(float64(n))
}

func IncSubscriptionCreated(pkg string) { subscriptionsCreatedTotal.WithLabelValues(pkg).Inc() }

func IncSubscriptionTerminated(reason string) {
	subscriptionsTerminatedTotal.WithLabelValues(reason).Inc()
}

func IncAdmissionRejected(reason string) { admissionRejectedTotal.WithLabelValues(reason).Inc() }

func SetWorkerQueueDepth(worker, depth int) {
	workerQueueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
}

func IncEventsProcessed(worker int) {
	eventsProcessedTotal.WithLabelValues(strconv.Itoa(worker)).Inc()
}

func IncEventDropped(reason string) { eventsDroppedTotal.WithLabelValues(reason).Inc() }

func ObserveEventProcessing(d time.Duration) { eventProcessingSeconds.Observe(d.Seconds()) }

func IncSlowEvent(severity string) { slowEventsTotal.WithLabelValues(severity).Inc() }

func RecordReaperScan(expired, stuck int, d time.Duration) {
	reaperScansTotal.Inc()
	reaperScanSeconds.Observe(d.Seconds())
	if expired > 0 {
		reaperReapedTotal.WithLabelValues("expired").Add(float64(expired))
	}
	if stuck > 0 {
		reaperReapedTotal.WithLabelValues("stuck").Add(float64(stuck))
	}
}
