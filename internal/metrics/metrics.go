// Package metrics exposes the core's operational counters and gauges via
// prometheus/client_golang. The teacher depends on this library as a
// PromQL *client* (internal/metricdata/prometheus.go); here it is used
// for its more common purpose, exposition via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MeasurementsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "measurements_ingested_total",
		Help:      "Measurements accepted by a sensor worker, by sensor_id.",
	}, []string{"sensor_id"})

	BatchesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "attribute_batches_emitted_total",
		Help:      "Batches handed from an attribute worker to its sensor worker.",
	}, []string{"sensor_id", "attribute_id"})

	PubsubDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "pubsub_messages_dropped_total",
		Help:      "Messages dropped because a subscriber's buffer was full.",
	})

	StoreEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "store_warm_evictions_total",
		Help:      "Measurements dropped on warm-tier truncation, or on hot-tier overflow for types with no warm tier.",
	}, []string{"sensor_id", "attribute_id"})

	AttentionLevelTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "attention_level_transitions_total",
		Help:      "Attention level changes, by the level transitioned to.",
	}, []string{"level"})

	CurrentLoadMultiplier = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensocto",
		Name:      "load_multiplier",
		Help:      "The load monitor's current retention/throttle multiplier.",
	})

	ReplicatorSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensocto",
		Name:      "replicator_sink_failures_total",
		Help:      "Downstream sink write failures, by sensor_id.",
	}, []string{"sensor_id"})
)
