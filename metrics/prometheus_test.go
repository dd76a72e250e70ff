package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"

	"github.com/fairgate/fairgate/metrics"
)

func TestPrometheus(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name          string
		recordMetrics func(metrics.Recorder)
		expMetrics    []string
	}{
		{
			name: "Recording command metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m2 := m.WithID("test2")
				m1.ObserveCommandExecution(now.Add(-450*time.Millisecond), true)
				m1.ObserveCommandExecution(now.Add(-50*time.Millisecond), false)
				m2.ObserveCommandExecution(now.Add(-1200*time.Millisecond), false)
			},
			expMetrics: []string{
				`fairgate_command_execution_duration_seconds_count{id="test",success="true"} 1`,
				`fairgate_command_execution_duration_seconds_count{id="test",success="false"} 1`,
				`fairgate_command_execution_duration_seconds_count{id="test2",success="false"} 1`,
			},
		},
		{
			name: "Recording concurrency metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m1.SetConcurrencyLimitInflightExecutions(4)
				m1.SetConcurrencyLimitQueuedExecutions(2)
			},
			expMetrics: []string{
				`fairgate_concurrencylimit_inflight_executions{id="test"} 4`,
				`fairgate_concurrencylimit_queued_executions{id="test"} 2`,
			},
		},
		{
			name: "Recording queue metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m2 := m.WithID("test2")
				m1.IncQueueOverflow("drop")
				m1.IncQueueOverflow("drop")
				m1.IncQueueOverflow("slide")
				m1.IncCanceledExecutions(3)
				m2.IncCanceledExecutions(1)
			},
			expMetrics: []string{
				`fairgate_queue_overflows_total{id="test",policy="drop"} 2`,
				`fairgate_queue_overflows_total{id="test",policy="slide"} 1`,
				`fairgate_queue_canceled_total{id="test"} 3`,
				`fairgate_queue_canceled_total{id="test2"} 1`,
			},
		},
		{
			name: "Recording rate limit metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m1.IncRateLimitWaited()
				m1.IncRateLimitWaited()
			},
			expMetrics: []string{
				`fairgate_ratelimit_waits_total{id="test"} 2`,
			},
		},
		{
			name: "Recording circuit breaker metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m1.IncCircuitbreakerState("open")
				m1.IncCircuitbreakerState("half-open")
				m1.IncCircuitbreakerState("closed")
				m1.IncCircuitbreakerState("open")
			},
			expMetrics: []string{
				`fairgate_circuitbreaker_state_changes_total{id="test",state="open"} 2`,
				`fairgate_circuitbreaker_state_changes_total{id="test",state="half-open"} 1`,
				`fairgate_circuitbreaker_state_changes_total{id="test",state="closed"} 1`,
			},
		},
		{
			name: "Recording stale result metrics should expose the metrics.",
			recordMetrics: func(m metrics.Recorder) {
				m1 := m.WithID("test")
				m1.IncStaleResult()
			},
			expMetrics: []string{
				`fairgate_latest_stale_results_total{id="test"} 1`,
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)

			reg := prometheus.NewRegistry()
			m := metrics.NewPrometheusRecorder(reg)
			test.recordMetrics(m)

			// Expose the metrics and check they have been recorded.
			h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
			srv := httptest.NewServer(h)
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			assert.NoError(err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			assert.NoError(err)

			for _, expMetric := range test.expMetrics {
				assert.Contains(string(body), expMetric)
			}
		})
	}
}

func BenchmarkRecorders(b *testing.B) {
	benchs := []struct {
		name     string
		recorder func() metrics.Recorder
	}{
		{
			name:     "Without measurement (Dummy).",
			recorder: func() metrics.Recorder { return metrics.Dummy },
		},
		{
			name: "With Prometheus measurement.",
			recorder: func() metrics.Recorder {
				return metrics.NewPrometheusRecorder(prometheus.NewRegistry())
			},
		},
	}

	for _, bench := range benchs {
		b.Run(bench.name, func(b *testing.B) {
			rec := bench.recorder().WithID("bench")
			start := time.Now()
			for n := 0; n < b.N; n++ {
				rec.ObserveCommandExecution(start, true)
				rec.IncCircuitbreakerState("open")
			}
		})
	}
}
