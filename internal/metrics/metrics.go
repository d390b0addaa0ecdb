// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tasks_scheduled_total",
		Help:      "Tasks handed to a worker by the scheduler.",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tasks_completed_total",
		Help:      "Tasks that reached Completed.",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tasks_failed_total",
		Help:      "Tasks that reached terminal Failed.",
	})

	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "tasks_retried_total",
		Help:      "Retryable failures re-queued for execution.",
	})

	BusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Messages published to the broadcast topic.",
	})

	BusDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hive",
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Messages dropped from lagging subscriber buffers.",
	})

	CapabilityInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "capability_invocations_total",
		Help:      "Capability invocations by id and outcome status.",
	}, []string{"capability", "status"})
)
