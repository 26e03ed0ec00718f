package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine / transaction metrics

	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetime_commits_total",
			Help: "Total number of transactions accepted into the commit log",
		},
	)

	CommitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetime_commit_conflicts_total",
			Help: "Total number of transactions rejected due to a read/write-set conflict",
		},
	)

	CommitLogOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetime_commit_log_offset",
			Help: "Offset of the most recently flushed commit",
		},
	)

	RowCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spacetime_table_row_count",
			Help: "Number of live rows per table",
		},
		[]string{"table"},
	)

	IndexScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetime_index_scans_total",
			Help: "Total number of range or point scans performed, by kind",
		},
		[]string{"kind"},
	)

	// Host / reducer metrics

	ActiveModulesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetime_active_modules_total",
			Help: "Number of module hosts currently resident in the controller",
		},
	)

	ReducerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetime_reducer_calls_total",
			Help: "Total number of reducer invocations, by reducer name and outcome",
		},
		[]string{"reducer", "outcome"},
	)

	ReducerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacetime_reducer_duration_seconds",
			Help:    "Wall-clock duration of reducer invocations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reducer"},
	)

	ReducerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetime_reducer_panics_total",
			Help: "Total number of reducer invocations that panicked",
		},
		[]string{"reducer"},
	)

	EnergyConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetime_energy_consumed_total",
			Help: "Total energy quota consumed, by reducer name",
		},
		[]string{"reducer"},
	)

	EnergyBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetime_energy_balance",
			Help: "Energy consumed by reducer calls, summed over every live host",
		},
	)

	// Scheduler metrics

	SchedulerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetime_scheduler_queue_depth",
			Help: "Number of scheduled reducer calls waiting to fire",
		},
	)

	SchedulerFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetime_scheduler_fired_total",
			Help: "Total number of scheduled reducer calls fired",
		},
	)

	SchedulerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spacetime_scheduler_latency_seconds",
			Help:    "Delay between a scheduled call's target time and its actual firing",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscription / broadcast metrics

	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spacetime_subscribers_total",
			Help: "Number of connections currently subscribed to table updates",
		},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spacetime_broadcast_dropped_total",
			Help: "Total number of update broadcasts dropped because a subscriber's queue was full",
		},
	)

	// RPC metrics

	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacetime_rpc_requests_total",
			Help: "Total number of RPC requests, by method and status code",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacetime_rpc_request_duration_seconds",
			Help:    "RPC request handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitConflictsTotal)
	prometheus.MustRegister(CommitLogOffset)
	prometheus.MustRegister(RowCount)
	prometheus.MustRegister(IndexScansTotal)

	prometheus.MustRegister(ActiveModulesTotal)
	prometheus.MustRegister(ReducerCallsTotal)
	prometheus.MustRegister(ReducerDuration)
	prometheus.MustRegister(ReducerPanicsTotal)
	prometheus.MustRegister(EnergyConsumedTotal)
	prometheus.MustRegister(EnergyBalance)

	prometheus.MustRegister(SchedulerQueueDepth)
	prometheus.MustRegister(SchedulerFiredTotal)
	prometheus.MustRegister(SchedulerLatency)

	prometheus.MustRegister(SubscribersTotal)
	prometheus.MustRegister(BroadcastDroppedTotal)

	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
