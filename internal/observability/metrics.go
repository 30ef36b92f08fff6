package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	phaseTransitions  *prometheus.CounterVec
	retryRegistered   *prometheus.CounterVec
	retryWaitDuration *prometheus.HistogramVec
	retryWaitCancels  *prometheus.CounterVec
	failuresByClass   *prometheus.CounterVec

	messagesPublished *prometheus.CounterVec
	messagesRejected  prometheus.Counter
	messagesDropped   prometheus.Counter
	busSubscribers    prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	runTotal    *prometheus.CounterVec
	runDuration prometheus.Histogram
	activeRuns  prometheus.Gauge

	historyAppendDuration prometheus.Histogram
	historyPrunedTotal    prometheus.Counter

	gatewayClients prometheus.Gauge

	laneQueued      prometheus.Gauge
	laneWaitSeconds prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			phaseTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_phase_transitions_total",
					Help: "Total run phase transitions by target phase.",
				},
				[]string{"phase"},
			),
			retryRegistered: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retry_registered_total",
					Help: "Total registered retries by category and outcome (allowed, exhausted).",
				},
				[]string{"category", "outcome"},
			),
			retryWaitDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "retry_wait_duration_seconds",
					Help:    "Backoff wait duration in seconds by retry category.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"category"},
			),
			retryWaitCancels: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retry_wait_cancelled_total",
					Help: "Total backoff waits aborted by cancellation, by retry category.",
				},
				[]string{"category"},
			),
			failuresByClass: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_failures_classified_total",
					Help: "Total failures by classified error category.",
				},
				[]string{"error_category"},
			),
			messagesPublished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "runtime_messages_published_total",
					Help: "Total runtime messages published by type.",
				},
				[]string{"type"},
			),
			messagesRejected: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "runtime_messages_rejected_total",
					Help: "Total runtime messages rejected by envelope validation.",
				},
			),
			messagesDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "runtime_messages_dropped_total",
					Help: "Total runtime messages dropped for slow subscribers.",
				},
			),
			busSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bus_subscribers",
					Help: "Current bus subscriber count.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "run_total",
					Help: "Total runs by terminal phase.",
				},
				[]string{"phase"},
			),
			runDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "run_duration_seconds",
					Help:    "Run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_runs",
					Help: "Current active run count.",
				},
			),
			historyAppendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_append_duration_seconds",
					Help:    "History append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historyPrunedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "history_pruned_total",
					Help: "Total history rows removed by retention.",
				},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients",
					Help: "Current connected gateway client count.",
				},
			),
			laneQueued: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "session_lane_queued",
					Help: "Runs waiting behind another run of the same session.",
				},
			),
			laneWaitSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_lane_wait_seconds",
					Help:    "Time a run waited in its session lane before starting.",
					Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
				},
			),
		}

		prometheus.MustRegister(
			m.phaseTransitions,
			m.retryRegistered,
			m.retryWaitDuration,
			m.retryWaitCancels,
			m.failuresByClass,
			m.messagesPublished,
			m.messagesRejected,
			m.messagesDropped,
			m.busSubscribers,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.runTotal,
			m.runDuration,
			m.activeRuns,
			m.historyAppendDuration,
			m.historyPrunedTotal,
			m.gatewayClients,
			m.laneQueued,
			m.laneWaitSeconds,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordPhaseTransition(phase string) {
	getMetrics().phaseTransitions.WithLabelValues(phase).Inc()
}

func RecordRetry(category string, allowed bool) {
	outcome := "exhausted"
	if allowed {
		outcome = "allowed"
	}
	getMetrics().retryRegistered.WithLabelValues(category, outcome).Inc()
}

func RecordRetryWait(category string, duration time.Duration, cancelled bool) {
	m := getMetrics()
	if cancelled {
		m.retryWaitCancels.WithLabelValues(category).Inc()
		return
	}
	m.retryWaitDuration.WithLabelValues(category).Observe(duration.Seconds())
}

func RecordFailure(errorCategory string) {
	getMetrics().failuresByClass.WithLabelValues(errorCategory).Inc()
}

func RecordMessagePublished(messageType string) {
	getMetrics().messagesPublished.WithLabelValues(messageType).Inc()
}

func RecordMessageRejected() {
	getMetrics().messagesRejected.Inc()
}

func RecordMessageDropped() {
	getMetrics().messagesDropped.Inc()
}

func SetBusSubscribers(count int) {
	getMetrics().busSubscribers.Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordRunFinished(phase string, duration time.Duration) {
	m := getMetrics()
	m.runTotal.WithLabelValues(phase).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func SetActiveRuns(count int) {
	getMetrics().activeRuns.Set(float64(count))
}

func RecordHistoryAppend(duration time.Duration) {
	getMetrics().historyAppendDuration.Observe(duration.Seconds())
}

func RecordHistoryPruned(rows int64) {
	getMetrics().historyPrunedTotal.Add(float64(rows))
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}

func AddLaneQueued(delta int) {
	getMetrics().laneQueued.Add(float64(delta))
}

func RecordLaneWait(duration time.Duration) {
	getMetrics().laneWaitSeconds.Observe(duration.Seconds())
}
