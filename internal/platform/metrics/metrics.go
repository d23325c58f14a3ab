// Package metrics exposes the Prometheus counters/histograms shared by
// every worker role.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MessagesPublished counts messages published per queue and outcome.
	MessagesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talos_messages_published_total",
		Help: "Total messages published, labeled by queue and outcome (ok).",
	}, []string{"queue", "outcome"})

	// MessagesConsumed counts messages consumed per queue and outcome.
	MessagesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talos_messages_consumed_total",
		Help: "Total messages consumed, labeled by queue and outcome (ok).",
	}, []string{"queue", "outcome"})

	// RetriesTotal counts retry attempts per component and policy.
	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talos_retries_total",
		Help: "Total retry attempts, labeled by component and policy.",
	}, []string{"component", "policy"})

	// PassDuration is a histogram for the wall-clock duration of one pass,
	// labeled by component. No worker loop or handler observes into it.
	PassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talos_pass_duration_seconds",
		Help:    "Duration of one handle_one_pass invocation, labeled by component.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})

	// TokenRotations counts how many times the HTTP client has fetched a
	// fresh bearer token.
	TokenRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talos_http_token_rotations_total",
		Help: "Total number of bearer token acquisitions by the HTTP client.",
	})
)

// MustRegister registers every collector in this package with the default
// Prometheus registry. Safe to call once per process.
func MustRegister() {
	prometheus.MustRegister(MessagesPublished, MessagesConsumed, RetriesTotal, PassDuration, TokenRotations)
}
