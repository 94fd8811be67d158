package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Swarm membership metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarm_agents_total",
			Help: "Total number of agents by state",
		},
		[]string{"state"},
	)

	TopologyConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_topology_connections",
			Help: "Number of edges in the current topology",
		},
	)

	TopologySwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_topology_switches_total",
			Help: "Total number of topology switches",
		},
	)

	// Task metrics
	TasksRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_tasks_recorded_total",
			Help: "Total number of task metrics recorded by result",
		},
		[]string{"result"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarm_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Collector pipeline metrics
	MetricsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_metrics_dropped_total",
			Help: "Total number of metrics dropped because the queue was full",
		},
	)

	MetricsQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_metrics_queue_depth",
			Help: "Current depth of the async metrics queue",
		},
	)

	MetricsStorageErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_metrics_storage_errors_total",
			Help: "Total number of metric batches that failed to persist",
		},
	)

	// Hook metrics
	HooksFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_hooks_fired_total",
			Help: "Total number of hook dispatches by event type",
		},
		[]string{"event"},
	)

	HookFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarm_hook_failures_total",
			Help: "Total number of hook executions that exhausted retries",
		},
	)

	// Consensus metrics
	ConsensusProposals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_consensus_proposals_total",
			Help: "Total number of consensus proposals by outcome",
		},
		[]string{"outcome"},
	)

	ConsensusTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_consensus_term",
			Help: "Current consensus term",
		},
	)

	ConsensusIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarm_consensus_has_leader",
			Help: "Whether the swarm currently has an elected leader (1 or 0)",
		},
	)

	// Health metrics
	HealthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_health_transitions_total",
			Help: "Total number of agent health transitions by resulting state",
		},
		[]string{"state"},
	)

	// Bottleneck metrics
	BottlenecksDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_bottlenecks_detected_total",
			Help: "Total number of bottlenecks detected by kind and severity",
		},
		[]string{"kind", "severity"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(TopologyConnections)
	prometheus.MustRegister(TopologySwitches)
	prometheus.MustRegister(TasksRecorded)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(MetricsDropped)
	prometheus.MustRegister(MetricsQueueDepth)
	prometheus.MustRegister(MetricsStorageErrors)
	prometheus.MustRegister(HooksFired)
	prometheus.MustRegister(HookFailures)
	prometheus.MustRegister(ConsensusProposals)
	prometheus.MustRegister(ConsensusTerm)
	prometheus.MustRegister(ConsensusIsLeader)
	prometheus.MustRegister(HealthTransitions)
	prometheus.MustRegister(BottlenecksDetected)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
