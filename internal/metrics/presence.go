// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	presenceEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_presence_events_total",
		Help: "Call-state events received from the presence feed by state",
	}, []string{"state"})

	presenceEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_events_dropped_total",
		Help: "Call-state events dropped because the router queue was full",
	})

	presenceNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_notifications_generated_total",
		Help: "Presence triggers fanned out to watching subscriptions",
	})

	presenceWatchersNotFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_watchers_not_found_total",
		Help: "Call-state events with no watcher for either endpoint",
	})

	presenceConnState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sipevd_presence_connection_state",
		Help: "Feed connection state (0=disconnected 1=connecting 2=connected 3=reconnecting)",
	})

	presenceReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_reconnects_total",
		Help: "Reconnect attempts against the presence feed",
	})

	presenceHeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_heartbeats_total",
		Help: "Heartbeat elements received from the presence feed",
	})

	presenceParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sipevd_presence_parse_errors_total",
		Help: "Malformed or oversized frames discarded by the feed parser",
	})

	failoverFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sipevd_failover_failures_total",
		Help: "Connection failures reported per feed endpoint",
	}, []string{"endpoint"})
)

func IncPresenceEvent(state string) { presenceEventsTotal.WithLabelValues(state).Inc() }

func IncPresenceEventDropped() { presenceEventsDroppedTotal.Inc() }

func AddPresenceNotifications(n int) { presenceNotificationsTotal.Add(float64(n)) }

func IncPresenceWatchersNotFound() { presenceWatchersNotFoundTotal.Inc() }

func SetPresenceConnState(state int) { presenceConnState.Set(float64(state)) }

func IncPresenceReconnect() { presenceReconnectsTotal.Inc() }

func IncPresenceHeartbeat() { presenceHeartbeatsTotal.Inc() }

func IncPresenceParseError() { presenceParseErrorsTotal.Inc() }

func IncFailoverFailure(endpoint string) {
	failoverFailuresTotal.WithLabelValues(endpoint).Inc()
}
