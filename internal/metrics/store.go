// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_store_writes_total",
		Help: "Persistence operations by kind and outcome",
	}, []string{"kind", "outcome"}) // kind=batch|immediate|delete outcome=success|failure

	storeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sipevd_store_queue_depth",
		Help: "Dirty records waiting for the next flush",
	})

	storeFlushSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sipevd_store_flush_seconds",
		Help:    "Duration of one store flush batch",
		Buckets: prometheus.DefBuckets,
	})

	recoveredSubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_recovered_subscriptions_total",
		Help: "Subscriptions restored from the store at startup",
	})
)

func IncStoreWrite(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	storeWritesTotal.WithLabelValues(kind, outcome).Inc()
}

func SetStoreQueueDepth(n int) { storeQueueDepth.Set(float64(n)) }

func ObserveStoreFlush(d time.Duration) { storeFlushSeconds.Observe(d.Seconds()) }

func AddRecoveredSubscriptions(n int) { recoveredSubscriptionsTotal.Add(float64(n)) }
