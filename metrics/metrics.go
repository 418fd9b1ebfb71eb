// Package metrics provides Prometheus instrumentation for the state core.
// All collectors are registered on a package-level registry which the API
// server exposes via a /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the Prometheus registry used by this package
	Registry = prometheus.NewRegistry()

	// EventsAppended counts channel events appended by kind
	EventsAppended = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "ircstate_events_appended_total",
			Help: "Total number of channel events appended by kind",
		},
		[]string{"kind"},
	)

	// AppendDuration measures the latency of channel event appends
	AppendDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ircstate_append_duration_seconds",
			Help:    "Channel event append latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StoreRetries counts transient store failures that were retried
	StoreRetries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ircstate_store_retries_total",
			Help: "Total number of retried transient store failures",
		},
	)

	// BanDenials counts operations denied by an effective ban
	BanDenials = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ircstate_ban_denials_total",
			Help: "Total number of operations denied by an effective ban",
		},
	)

	// DirectMessages counts stored direct messages
	DirectMessages = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ircstate_direct_messages_total",
			Help: "Total number of direct messages stored",
		},
	)

	// CatchUpBatches counts catch-up delivery plans handed to callers
	CatchUpBatches = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ircstate_catchup_batches_total",
			Help: "Total number of catch-up delivery plans built",
		},
	)

	// CatchUpEvents counts events handed out through catch-up plans
	CatchUpEvents = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "ircstate_catchup_events_total",
			Help: "Total number of channel events delivered through catch-up",
		},
	)
)
