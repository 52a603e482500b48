package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/batchflow/internal/domain"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupLogger(LogConfig{Level: "INFO", Output: &buf})
	WithStepID(WithRunID(logger, "r1"), "download_dataset").Info("step succeeded")
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "step succeeded", entry["msg"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.Equal(t, "download_dataset", entry["step_id"])
}

func TestSetupLogger_Text(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupLogger(LogConfig{Format: "text", Output: &buf}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(domain.RunStatusSucceeded)
	m.ObserveRun(domain.RunStatusFailed)
	m.ObserveRun(domain.RunStatusFailed)
	m.ObserveStepAttempt("upload_dataset", ResultFailed, 2*time.Second)
	m.SetActiveRuns(3)
	m.ObserveHTTPRequest("POST", "/api/v1/runs", 202)
	m.ObserveHTTPRequest("GET", "/api/v1/runs", 200)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[f.GetName()] += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 3.0, values["batchflow_runs_total"])
	assert.Equal(t, 1.0, values["batchflow_step_attempts_total"])
	assert.Equal(t, 1.0, values["batchflow_step_duration_seconds"])
	assert.Equal(t, 3.0, values["batchflow_active_runs"])
	assert.Equal(t, 2.0, values["batchflow_http_requests_total"])
}

func TestMetrics_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRun(domain.RunStatusSucceeded)
	m.ObserveStepAttempt("upload_dataset", ResultSucceeded, time.Second)
	m.SetActiveRuns(1)
	m.ObserveHTTPRequest("GET", "/healthz", 200)

	families, err := reg.Gather()
	require.NoError(t, err)

	labels := make(map[string][]string)
	for _, f := range families {
		for _, pair := range f.GetMetric()[0].GetLabel() {
			labels[f.GetName()] = append(labels[f.GetName()], pair.GetName())
		}
	}

	assert.ElementsMatch(t, []string{"status"}, labels["batchflow_runs_total"])
	assert.ElementsMatch(t, []string{"step", "result"}, labels["batchflow_step_attempts_total"])
	assert.ElementsMatch(t, []string{"step"}, labels["batchflow_step_duration_seconds"])
	assert.Empty(t, labels["batchflow_active_runs"])
	assert.ElementsMatch(t, []string{"method", "route", "code"}, labels["batchflow_http_requests_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun(domain.RunStatusSucceeded)
		m.ObserveStepAttempt("x", ResultSucceeded, time.Second)
		m.SetActiveRuns(1)
		m.ObserveHTTPRequest("GET", "/healthz", 200)
	})
}
