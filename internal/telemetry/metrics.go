package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/batchflow/internal/domain"
)

// Результаты попытки шага для метки result.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

// Metrics — Prometheus метрики выполнения pipeline.
//
// Все методы безопасны для nil: без метрик компоненты работают как обычно.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	stepAttempts *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchflow_runs_total",
			Help: "Finished runs by final status",
		}, []string{"status"}),
		stepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchflow_step_attempts_total",
			Help: "Step attempts by result",
		}, []string{"step", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batchflow_step_duration_seconds",
			Help:    "Duration of a single step attempt",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"step"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batchflow_active_runs",
			Help: "Runs currently executing",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batchflow_http_requests_total",
			Help: "API requests by method, route and status code",
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(m.runsTotal, m.stepAttempts, m.stepDuration, m.activeRuns, m.httpRequests)
	return m
}

// ObserveRun учитывает завершённый run.
func (m *Metrics) ObserveRun(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(status)).Inc()
}

// ObserveStepAttempt учитывает попытку шага и её длительность.
func (m *Metrics) ObserveStepAttempt(stepID, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepAttempts.WithLabelValues(stepID, result).Inc()
	m.stepDuration.WithLabelValues(stepID).Observe(d.Seconds())
}

// SetActiveRuns обновляет количество активных runs.
func (m *Metrics) SetActiveRuns(n int) {
	if m == nil {
		return
	}
	m.activeRuns.Set(float64(n))
}

// ObserveHTTPRequest учитывает запрос к API.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
