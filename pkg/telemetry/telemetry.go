// Package telemetry exposes the server's prometheus collectors. Metrics are
// registered on the default registry and served by promhttp in pkg/api.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections is the number of currently open client connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairwire_connections",
		Help: "Open client connections.",
	})

	// Identities is the number of live identity bindings.
	Identities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairwire_live_identities",
		Help: "Live userCode-to-connection bindings.",
	})

	// Events counts inbound client events by type, including rejected ones.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwire_events_total",
		Help: "Inbound client events by event name.",
	}, []string{"event"})

	// EventErrors counts error events surfaced to clients by error kind.
	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwire_event_errors_total",
		Help: "Error events surfaced to clients by kind.",
	}, []string{"kind"})

	// MessagesRouted counts messages appended and fanned out.
	MessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwire_messages_routed_total",
		Help: "Messages appended and delivered to rooms.",
	})

	// Deliveries counts individual per-connection message deliveries.
	Deliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwire_deliveries_total",
		Help: "Per-connection message deliveries.",
	})

	// Flushes counts completed durable snapshot writes.
	Flushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwire_store_flushes_total",
		Help: "Completed durable conversation snapshot writes.",
	})

	// FlushFailures counts failed snapshot writes. Failed conversations stay
	// dirty and are retried on the next mutation.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwire_store_flush_failures_total",
		Help: "Failed durable snapshot writes.",
	})

	// RateLimited counts events dropped by the per-connection limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairwire_rate_limited_total",
		Help: "Client events rejected by the per-connection rate limiter.",
	})
)
