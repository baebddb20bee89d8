package main

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// gaugeValue reads an unlabelled gauge from reg.
func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

// counterValue sums the series of a counter whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	m.ObserveRun(StepResult{Success: true})
	m.ObserveStep(StateLogin, nil, time.Second)
	m.ObserveTransition(StatusQueued)
	m.SetQueueDepth(3)
	m.RunStarted()
	m.RunFinished()
}

func TestMetricsRecordRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(StepResult{Success: true})
	m.ObserveRun(StepResult{Error: CodeOTPRequired})
	m.ObserveRun(StepResult{Error: CodeTimeout})
	m.ObserveRun(StepResult{Error: CodeTimeout})

	testCases := []struct {
		labels map[string]string
		expect float64
	}{
		{map[string]string{"outcome": "success"}, 1},
		{map[string]string{"outcome": "manual", "code": "otp_required"}, 1},
		{map[string]string{"outcome": "failed", "code": "timeout"}, 2},
	}

	for _, tc := range testCases {
		if got := counterValue(t, reg, "topup_runs_total", tc.labels); got != tc.expect {
			t.Errorf("For %v expected %.0f, got %.0f", tc.labels, tc.expect, got)
		}
	}
}

func TestMetricsRecordStepsAndTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStep(StateLogin, nil, 200*time.Millisecond)
	m.ObserveStep(StateLogin, errors.New("boom"), time.Second)
	m.ObserveTransition(StatusCompleted)
	m.ObserveTransition(StatusCompleted)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var steps uint64
	for _, f := range families {
		if f.GetName() == "topup_step_duration_seconds" {
			for _, metric := range f.GetMetric() {
				steps += metric.GetHistogram().GetSampleCount()
			}
		}
	}
	if steps != 2 {
		t.Errorf("Expected 2 step observations, got %d", steps)
	}

	if got := counterValue(t, reg, "topup_order_transitions_total", map[string]string{"status": "completed"}); got != 2 {
		t.Errorf("Expected 2 completed transitions, got %.0f", got)
	}
}
