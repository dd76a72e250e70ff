package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	promNamespace = "fairgate"

	promCommandSubsystem     = "command"
	promConcurrencySubsystem = "concurrencylimit"
	promQueueSubsystem       = "queue"
	promRateLimitSubsystem   = "ratelimit"
	promCBSubsystem          = "circuitbreaker"
	promLatestSubsystem      = "latest"
)

type prometheusRec struct {
	// Metrics.
	cmdExecutionDuration *prometheus.HistogramVec
	inflightExecutions   *prometheus.GaugeVec
	queuedExecutions     *prometheus.GaugeVec
	queueOverflows       *prometheus.CounterVec
	canceledExecutions   *prometheus.CounterVec
	rateLimitWaits       *prometheus.CounterVec
	cbStateChanges       *prometheus.CounterVec
	staleResults         *prometheus.CounterVec

	id  string
	reg prometheus.Registerer
}

// NewPrometheusRecorder returns a new Recorder that knows how to measure
// using Prometheus kind metrics.
func NewPrometheusRecorder(reg prometheus.Registerer) Recorder {
	p := &prometheusRec{
		reg: reg,
	}

	p.registerMetrics()
	return p
}

func (p prometheusRec) WithID(id string) Recorder {
	return &prometheusRec{
		cmdExecutionDuration: p.cmdExecutionDuration,
		inflightExecutions:   p.inflightExecutions,
		queuedExecutions:     p.queuedExecutions,
		queueOverflows:       p.queueOverflows,
		canceledExecutions:   p.canceledExecutions,
		rateLimitWaits:       p.rateLimitWaits,
		cbStateChanges:       p.cbStateChanges,
		staleResults:         p.staleResults,

		id:  id,
		reg: p.reg,
	}
}

func (p *prometheusRec) registerMetrics() {
	p.cmdExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: promNamespace,
		Subsystem: promCommandSubsystem,
		Name:      "execution_duration_seconds",
		Help:      "The duration of the command execution in seconds.",
	}, []string{"id", "success"})

	p.inflightExecutions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promConcurrencySubsystem,
		Name:      "inflight_executions",
		Help:      "The number of tasks executing at this moment.",
	}, []string{"id"})

	p.queuedExecutions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promConcurrencySubsystem,
		Name:      "queued_executions",
		Help:      "The number of tasks waiting for a permit at this moment.",
	}, []string{"id"})

	p.queueOverflows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promQueueSubsystem,
		Name:      "overflows_total",
		Help:      "Total number of admissions rejected or evicted by an overflow policy.",
	}, []string{"id", "policy"})

	p.canceledExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promQueueSubsystem,
		Name:      "canceled_total",
		Help:      "Total number of pending executions rejected by a clear sweep.",
	}, []string{"id"})

	p.rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promRateLimitSubsystem,
		Name:      "waits_total",
		Help:      "Total number of times a caller waited for a window opening.",
	}, []string{"id"})

	p.cbStateChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promCBSubsystem,
		Name:      "state_changes_total",
		Help:      "Total number of state changes made by the circuit breaker runner.",
	}, []string{"id", "state"})

	p.staleResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promLatestSubsystem,
		Name:      "stale_results_total",
		Help:      "Total number of results suppressed because a newer call superseded them.",
	}, []string{"id"})

	p.reg.MustRegister(p.cmdExecutionDuration,
		p.inflightExecutions,
		p.queuedExecutions,
		p.queueOverflows,
		p.canceledExecutions,
		p.rateLimitWaits,
		p.cbStateChanges,
		p.staleResults,
	)
}

func (p prometheusRec) ObserveCommandExecution(start time.Time, success bool) {
	secs := time.Since(start).Seconds()
	p.cmdExecutionDuration.WithLabelValues(p.id, fmt.Sprintf("%t", success)).Observe(secs)
}

func (p prometheusRec) SetConcurrencyLimitInflightExecutions(q int) {
	p.inflightExecutions.WithLabelValues(p.id).Set(float64(q))
}

func (p prometheusRec) SetConcurrencyLimitQueuedExecutions(q int) {
	p.queuedExecutions.WithLabelValues(p.id).Set(float64(q))
}

func (p prometheusRec) IncQueueOverflow(policy string) {
	p.queueOverflows.WithLabelValues(p.id, policy).Inc()
}

func (p prometheusRec) IncCanceledExecutions(q int) {
	p.canceledExecutions.WithLabelValues(p.id).Add(float64(q))
}

func (p prometheusRec) IncRateLimitWaited() {
	p.rateLimitWaits.WithLabelValues(p.id).Inc()
}

func (p prometheusRec) IncCircuitbreakerState(state string) {
	p.cbStateChanges.WithLabelValues(p.id, state).Inc()
}

func (p prometheusRec) IncStaleResult() {
	p.staleResults.WithLabelValues(p.id).Inc()
}
