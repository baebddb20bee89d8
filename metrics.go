package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	runs        *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	activeRuns  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topup",
			Name:      "runs_total",
			Help:      "Automation runs by outcome and error code.",
		}, []string{"outcome", "code"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topup",
			Name:      "step_duration_seconds",
			Help:      "Time spent in each state of the purchase flow.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"state", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topup",
			Name:      "order_transitions_total",
			Help:      "Order status changes by target status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topup",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "topup",
			Name:      "active_runs",
			Help:      "Runs currently holding a browser session.",
		}),
	}
	reg.MustRegister(m.runs, m.steps, m.transitions, m.queueDepth, m.activeRuns)
	return m
}

func (m *Metrics) ObserveRun(res StepResult) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case res.Success:
	case res.Error.NeedsManual():
		outcome = "manual"
	default:
		outcome = "failed"
	}
	m.runs.WithLabelValues(outcome, string(res.Error)).Inc()
}

func (m *Metrics) ObserveStep(state State, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.steps.WithLabelValues(string(state), result).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransition(status OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}
