// SPDX-License-Identifier: MIT
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sipEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_sip_events_total",
		Help: "SIP events received from the stack by type",
	}, []string{"type"}) // type=subscribe|notify|publish|response|presence_trigger

	sipResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_sip_responses_sent_total",
		Help: "SIP responses sent by status code",
	}, []string{"code"})

	notifySentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_notify_sent_total",
		Help: "NOTIFY requests sent by event package and outcome",
	}, []string{"package", "outcome"}) // outcome=success|failure

	notifyBodyBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sipevd_notify_body_bytes",
		Help:    "Size of generated NOTIFY bodies",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	})
)

func IncSipEvent(eventType string) { sipEventsTotal.WithLabelValues(eventType).Inc() }

func IncSipResponse(code int) {
	sipResponsesTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func IncNotifySent(pkg string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	notifySentTotal.WithLabelValues(pkg, outcome).Inc()
}

func ObserveNotifyBody(n int) { notifyBodyBytes.Observe(float64(n)) }
