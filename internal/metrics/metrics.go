// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll loop
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logowatch_polls_total",
			Help: "Poll cycles by outcome",
		},
		[]string{"result"}, // "appended", "unchanged", "failed", "skipped"
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logowatch_upstream_fetch_errors_total",
			Help: "Upstream fetch failures by kind",
		},
		[]string{"kind"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logowatch_upstream_fetch_duration_seconds",
			Help:    "Duration of upstream fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logowatch_upstream_circuit_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// History
	HistoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logowatch_history_entries",
			Help: "Entries currently retained in the history log",
		},
	)

	HistoryAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logowatch_history_appends_total",
			Help: "Distinct logo states appended to the history log",
		},
	)

	// Live subscribers
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logowatch_live_sessions",
			Help: "Currently registered live subscriber sessions",
		},
	)

	LiveDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logowatch_live_messages_delivered_total",
			Help: "Logo states written to live subscribers",
		},
	)

	LiveDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logowatch_live_disconnects_total",
			Help: "Live sessions closed by reason",
		},
		[]string{"reason"}, // "client_gone", "write_failed", "slow_consumer", "shutdown"
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logowatch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordHTTPRequest observes one finished request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
