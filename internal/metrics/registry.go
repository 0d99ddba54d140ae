// Package metrics wraps a Prometheus registry with the counters and gauges
// the scheduler core, placement policy, gateway, reactor, and fetcher all
// record against, following the teacher's typed-wrapper pattern instead of
// scattering raw prometheus calls through the domain code.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a Prometheus registry with scheduler-specific metrics.
type Registry struct {
	registry *prometheus.Registry

	// Task lifecycle metrics
	tasksSubmittedTotal *prometheus.CounterVec
	tasksAssignedTotal  *prometheus.CounterVec
	tasksFinishedTotal  *prometheus.CounterVec
	tasksErredTotal     *prometheus.CounterVec
	tasksStolenTotal    *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec

	// Queue and placement metrics
	readyQueueDepth   *prometheus.GaugeVec
	placementDecision *prometheus.HistogramVec

	// Worker metrics
	workersConnected prometheus.Gauge
	workerLoad       *prometheus.GaugeVec
	workerLost       prometheus.Counter

	// Data fetch metrics
	fetchAttemptsTotal *prometheus.CounterVec
	fetchDuration      prometheus.Histogram
	fetchBytesTotal    prometheus.Counter

	// Gateway / bridge metrics
	gatewayConnections prometheus.Gauge
	bridgeDepth        prometheus.Gauge
	protocolErrors     *prometheus.CounterVec
}

// NewRegistry creates a metrics registry with all scheduler metrics
// registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		tasksSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_tasks_submitted_total",
				Help: "Total number of tasks submitted to the scheduler",
			},
			[]string{"client"},
		),
		tasksAssignedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_tasks_assigned_total",
				Help: "Total number of tasks assigned to a worker",
			},
			[]string{"worker"},
		),
		tasksFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_tasks_finished_total",
				Help: "Total number of tasks that finished successfully",
			},
			[]string{"worker"},
		),
		tasksErredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_tasks_erred_total",
				Help: "Total number of tasks that finished with an error",
			},
			[]string{"worker"},
		),
		tasksStolenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_tasks_stolen_total",
				Help: "Total number of steals proposed by the placement policy, counted when the steal request is sent",
			},
			[]string{"from_worker", "to_worker"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagsched_task_duration_seconds",
				Help:    "Task execution duration in seconds, from assignment to finish",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"worker"},
		),

		readyQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dagsched_ready_queue_depth",
				Help: "Number of tasks currently ready to run but not yet assigned",
			},
			[]string{"queue"},
		),
		placementDecision: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagsched_placement_decision_seconds",
				Help:    "Time taken by the placement policy to pick a target worker",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"policy"},
		),

		workersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagsched_workers_connected",
				Help: "Number of workers currently connected to the scheduler",
			},
		),
		workerLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dagsched_worker_load",
				Help: "Number of tasks currently running or queued on a worker",
			},
			[]string{"worker"},
		),
		workerLost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dagsched_workers_lost_total",
				Help: "Total number of workers that disconnected or were evicted",
			},
		),

		fetchAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_fetch_attempts_total",
				Help: "Total number of peer-to-peer data fetch attempts",
			},
			[]string{"status"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dagsched_fetch_duration_seconds",
				Help:    "Duration of a successful peer-to-peer data fetch",
				Buckets: prometheus.DefBuckets,
			},
		),
		fetchBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dagsched_fetch_bytes_total",
				Help: "Total bytes transferred by the data fetcher",
			},
		),

		gatewayConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagsched_gateway_connections",
				Help: "Number of open gateway connections (clients and workers)",
			},
		),
		bridgeDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagsched_bridge_depth",
				Help: "Number of events buffered in the gateway-to-scheduler-core bridge",
			},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagsched_protocol_errors_total",
				Help: "Total number of connections closed for a protocol violation",
			},
			[]string{"peer_kind"},
		),
	}

	r.registerMetrics()
	return r
}

func (r *Registry) registerMetrics() {
	collectors := []prometheus.Collector{
		r.tasksSubmittedTotal,
		r.tasksAssignedTotal,
		r.tasksFinishedTotal,
		r.tasksErredTotal,
		r.tasksStolenTotal,
		r.taskDuration,
		r.readyQueueDepth,
		r.placementDecision,
		r.workersConnected,
		r.workerLoad,
		r.workerLost,
		r.fetchAttemptsTotal,
		r.fetchDuration,
		r.fetchBytesTotal,
		r.gatewayConnections,
		r.bridgeDepth,
		r.protocolErrors,
	}
	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
}

// GetRegistry returns the underlying Prometheus registry, for wiring into
// an HTTP handler.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordTaskSubmitted increments the submitted-task counter for a client.
func (r *Registry) RecordTaskSubmitted(client string) {
	r.tasksSubmittedTotal.WithLabelValues(client).Inc()
}

// RecordTaskAssigned increments the assigned-task counter for a worker.
func (r *Registry) RecordTaskAssigned(worker string) {
	r.tasksAssignedTotal.WithLabelValues(worker).Inc()
}

// RecordTaskFinished records a successfully finished task and its duration.
func (r *Registry) RecordTaskFinished(worker string, duration time.Duration) {
	r.tasksFinishedTotal.WithLabelValues(worker).Inc()
	r.taskDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordTaskErred records a task that finished with an error.
func (r *Registry) RecordTaskErred(worker string, duration time.Duration) {
	r.tasksErredTotal.WithLabelValues(worker).Inc()
	r.taskDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordTaskStolen records a steal proposed from one worker toward another.
func (r *Registry) RecordTaskStolen(fromWorker, toWorker string) {
	r.tasksStolenTotal.WithLabelValues(fromWorker, toWorker).Inc()
}

// SetReadyQueueDepth sets the current depth of a named ready queue (the
// worker reactor reports its local queue as "worker").
func (r *Registry) SetReadyQueueDepth(queue string, depth int) {
	r.readyQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordPlacementDecision records how long a policy took to pick a target.
func (r *Registry) RecordPlacementDecision(policy string, duration time.Duration) {
	r.placementDecision.WithLabelValues(policy).Observe(duration.Seconds())
}

// SetWorkersConnected sets the number of currently connected workers.
func (r *Registry) SetWorkersConnected(count int) {
	r.workersConnected.Set(float64(count))
}

// SetWorkerLoad sets the current load reported for a worker.
func (r *Registry) SetWorkerLoad(worker string, load int) {
	r.workerLoad.WithLabelValues(worker).Set(float64(load))
}

// RecordWorkerLost increments the lost-worker counter.
func (r *Registry) RecordWorkerLost() {
	r.workerLost.Inc()
}

// RecordFetchAttempt records the outcome of a single fetch attempt.
func (r *Registry) RecordFetchAttempt(status string) {
	r.fetchAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordFetchSuccess records a successful fetch's duration and size.
func (r *Registry) RecordFetchSuccess(duration time.Duration, bytes int64) {
	r.fetchDuration.Observe(duration.Seconds())
	if bytes > 0 {
		r.fetchBytesTotal.Add(float64(bytes))
	}
}

// SetGatewayConnections sets the number of open gateway connections.
func (r *Registry) SetGatewayConnections(count int) {
	r.gatewayConnections.Set(float64(count))
}

// SetBridgeDepth sets the number of events buffered in the bridge channel.
func (r *Registry) SetBridgeDepth(depth int) {
	r.bridgeDepth.Set(float64(depth))
}

// RecordProtocolError increments the protocol-violation counter for a peer
// kind ("client", "worker", "scheduler", "peer" or "unknown").
func (r *Registry) RecordProtocolError(peerKind string) {
	r.protocolErrors.WithLabelValues(peerKind).Inc()
}
