// Package metrics exposes the Prometheus collectors of the hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescueops_hub_inbound_events_total",
		Help: "Inbound events handled by the hub, by event name and outcome",
	}, []string{"event", "outcome"})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescueops_hub_broadcasts_total",
		Help: "Messages queued to subscribers, by topic",
	}, []string{"topic"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescueops_hub_dropped_total",
		Help: "Messages not delivered to a subscriber, by topic and reason",
	}, []string{"topic", "reason"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rescueops_hub_connections",
		Help: "Currently connected consumers",
	})

	PersistenceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rescueops_persistence_errors_total",
		Help: "Durable writes that failed or were dropped, by collection and reason",
	}, []string{"collection", "reason"})

	CorrelationSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rescueops_correlation_samples_total",
		Help: "Mission duration samples produced by the live correlator",
	})

	CorrelationExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rescueops_correlation_expired_total",
		Help: "Pending assignments evicted before a completion matched them",
	})

	CorrelationPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rescueops_correlation_pending",
		Help: "Assignments waiting for a matching completion",
	})

	MissionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rescueops_mission_duration_seconds",
		Help:    "Elapsed time between task assignment and mission completion",
		Buckets: []float64{5, 10, 20, 30, 60, 120, 300, 600, 1800},
	})
)

// IncInbound records one handled inbound event.
func IncInbound(event, outcome string) {
	if event == "" {
		event = "unknown"
	}
	InboundEventsTotal.WithLabelValues(event, outcome).Inc()
}

// IncBroadcast records a message queued for a subscriber.
func IncBroadcast(topic string) {
	BroadcastsTotal.WithLabelValues(topic).Inc()
}

// IncDropped records an undelivered message with a concrete reason.
func IncDropped(topic, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	DroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncPersistenceError records a failed ("error") or skipped ("queue_full") durable write.
func IncPersistenceError(collection, reason string) {
	PersistenceErrorsTotal.WithLabelValues(collection, reason).Inc()
}

// ObserveMission records a correlated mission duration.
func ObserveMission(seconds float64) {
	CorrelationSamplesTotal.Inc()
	MissionDurationSeconds.Observe(seconds)
}
