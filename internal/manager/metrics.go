package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	poolInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Number of instances per lifecycle state.",
		},
		[]string{"state"},
	)
	poolQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Tasks waiting for an idle instance.",
		},
	)
	poolTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "tasks_total",
			Help:      "Tasks by final outcome.",
		},
		[]string{"outcome"},
	)
	poolTaskRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "task_retries_total",
			Help:      "Tasks requeued after a transient failure.",
		},
	)
	poolTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Time from enqueue to result for executed tasks.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	poolRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "restarts_total",
			Help:      "Instance restarts, automatic and manual.",
		},
	)
	poolProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "genpool",
			Subsystem: "pool",
			Name:      "probe_failures_total",
			Help:      "Failed liveness probes.",
		},
	)
)

func init() {
	prometheus.MustRegister(poolInstances, poolQueueDepth, poolTasks, poolTaskRetries, poolTaskDuration, poolRestarts, poolProbeFailures)
}
