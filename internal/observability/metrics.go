package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// REST adapter metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wrt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wrt_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrt_active_requests",
		Help: "Current in-flight requests",
	})

	// worker pool metrics
	TaskTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wrt_task_total",
		Help: "Pool task completion count",
	}, []string{"op", "status"})

	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wrt_task_duration_seconds",
		Help:    "Pool task duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"op"})

	TaskQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrt_task_queue_depth",
		Help: "Tasks waiting for a pool worker",
	})

	PoolActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrt_pool_active_tasks",
		Help: "Currently executing pool tasks",
	})

	// runtime metrics
	WorkspaceStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wrt_workspace_state_transitions_total",
		Help: "Workspace runtime state transition count",
	}, []string{"from", "to"})

	ActiveRuntimes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrt_active_runtimes",
		Help: "Workspaces with a registry entry",
	})

	SnapshotTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wrt_snapshot_total",
		Help: "Snapshot attempts by outcome",
	}, []string{"result"})

	EngineCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wrt_engine_call_duration_seconds",
		Help:    "Environment engine call latency",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"op"})

	EventsForwardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wrt_events_forwarded_total",
		Help: "Lifecycle events forwarded to NATS",
	}, []string{"result"})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		TaskTotal, TaskDuration, TaskQueueDepth, PoolActiveTasks,
		WorkspaceStateTransitions, ActiveRuntimes, SnapshotTotal, EngineCallDuration,
		EventsForwardedTotal,
	)
}
