package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	serverConnectTotal  *prometheus.CounterVec
	serversConnected    prometheus.Gauge
	bridgedTools        prometheus.Gauge
	invocationTotal     *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec

	turnFailuresTotal  prometheus.Counter
	turnEscalations    prometheus.Counter
	historyPruneTotal  prometheus.Counter

	batchTotal       *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	workerTotal      *prometheus.CounterVec
	workerDuration   prometheus.Histogram
	workersInFlight  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			serverConnectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "capability_server_connect_total",
					Help: "Total capability server connect attempts by status.",
				},
				[]string{"status"},
			),
			serversConnected: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "capability_servers_connected",
					Help: "Currently connected capability servers.",
				},
			),
			bridgedTools: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bridged_tools",
					Help: "Currently bridged capability server tools.",
				},
			),
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocation_total",
					Help: "Total bridged tool invocations by server and status.",
				},
				[]string{"server", "status"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Bridged tool invocation duration in seconds by server.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"server"},
			),
			turnFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "turn_tool_failures_total",
					Help: "Total tool failures detected by the turn controller.",
				},
			),
			turnEscalations: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "turn_escalations_total",
					Help: "Total capability tier escalations.",
				},
			),
			historyPruneTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "history_prune_total",
					Help: "Total history pruning passes.",
				},
			),
			batchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_batch_total",
					Help: "Total sub-agent batch dispatches by status.",
				},
				[]string{"status"},
			),
			batchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "dispatch_batch_duration_seconds",
					Help:    "Batch dispatch duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			workerTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_worker_total",
					Help: "Total sub-agent workers by status.",
				},
				[]string{"status"},
			),
			workerDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "dispatch_worker_duration_seconds",
					Help:    "Sub-agent worker duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			workersInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "dispatch_workers_in_flight",
					Help: "Sub-agent workers currently running.",
				},
			),
		}

		prometheus.MustRegister(
			m.serverConnectTotal,
			m.serversConnected,
			m.bridgedTools,
			m.invocationTotal,
			m.invocationDuration,
			m.turnFailuresTotal,
			m.turnEscalations,
			m.historyPruneTotal,
			m.batchTotal,
			m.batchDuration,
			m.workerTotal,
			m.workerDuration,
			m.workersInFlight,
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

func RecordServerConnect(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.serverConnectTotal.WithLabelValues(status).Inc()
}

func SetServersConnected(count int) {
	getMetrics().serversConnected.Set(float64(count))
}

func SetBridgedTools(count int) {
	getMetrics().bridgedTools.Set(float64(count))
}

func RecordInvocation(server string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.invocationTotal.WithLabelValues(server, status).Inc()
	m.invocationDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func RecordTurnFailure() {
	getMetrics().turnFailuresTotal.Inc()
}

func RecordEscalation() {
	getMetrics().turnEscalations.Inc()
}

func RecordHistoryPrune() {
	getMetrics().historyPruneTotal.Inc()
}

func RecordBatch(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.batchTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(duration.Seconds())
}

func RecordWorker(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.workerTotal.WithLabelValues(status).Inc()
	m.workerDuration.Observe(duration.Seconds())
}

func AddWorkersInFlight(delta int) {
	getMetrics().workersInFlight.Add(float64(delta))
}
