// Package telemetry registers the prometheus collectors the HTTP front door
// and the dispatcher report through: plain request/latency/transaction-size
// instruments on a package-level Registry.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the process-wide prometheus registry every collector in this
// package registers against.
var Registry = prometheus.NewRegistry()

var (
	// RequestsTotal counts every HTTP request the front door handled, by
	// status class.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openslides_backend",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of HTTP requests handled, by status class.",
	}, []string{"status"})

	// ActionDispatchDuration tracks how long a single dotted action took
	// inside the dispatcher, from Perform to its returned write elements.
	ActionDispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openslides_backend",
		Subsystem: "dispatch",
		Name:      "action_duration_seconds",
		Help:      "Time spent performing one action within a batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	// WriteTransactionEvents tracks the number of events merged into one
	// datastore.Client.Write call, a proxy for cascade/dependency fan-out.
	WriteTransactionEvents = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "openslides_backend",
		Subsystem: "dispatch",
		Name:      "write_transaction_events",
		Help:      "Number of events merged into a single write transaction.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})
)

func init() {
	Registry.MustRegister(RequestsTotal, ActionDispatchDuration, WriteTransactionEvents)
}
