// Package metrics exposes Prometheus instrumentation for search runs.
//
// Metrics cover run outcomes, iteration and execution throughput, and the
// coverage and fitness of the best suite of each running search. They are
// served on /metrics by the API server.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/QTest-hq/qsearch/internal/fitness"
	"github.com/QTest-hq/qsearch/internal/ga"
	"github.com/QTest-hq/qsearch/internal/testcase"
	"github.com/QTest-hq/qsearch/internal/trace"
)

const (
	metricsNamespace = "qsearch"
	searchSubsystem  = "search"
	executorSubsys   = "executor"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// SearchMetrics holds the Prometheus metrics of the search engine.
type SearchMetrics struct {
	// RunsTotal counts finished runs.
	// Labels: algorithm, outcome (completed, cancelled, failed)
	RunsTotal *prometheus.CounterVec

	// ActiveRuns tracks searches currently evolving.
	// Labels: algorithm
	ActiveRuns *prometheus.GaugeVec

	// IterationsTotal counts generations.
	// Labels: algorithm
	IterationsTotal *prometheus.CounterVec

	// Coverage is the covered goal ratio of the best suite of the latest run.
	// Labels: algorithm
	Coverage *prometheus.GaugeVec

	// Fitness is the fitness of the best suite of the latest run.
	// Labels: algorithm
	Fitness *prometheus.GaugeVec

	// RunDurationSeconds measures the wall-clock time of a run.
	// Labels: algorithm, outcome
	RunDurationSeconds *prometheus.HistogramVec

	// ExecutionsTotal counts real test executions.
	ExecutionsTotal prometheus.Counter

	// StatementsTotal counts executed statements.
	StatementsTotal prometheus.Counter

	// FailuresTotal counts executions that ended early.
	// Labels: kind (exception, timeout)
	FailuresTotal *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *SearchMetrics
)

// Default returns the metrics registered with the default Prometheus
// registry, creating them on first use.
func Default() *SearchMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *SearchMetrics {
	factory := promauto.With(reg)

	return &SearchMetrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "runs_total",
				Help:      "Total number of search runs by algorithm and outcome",
			},
			[]string{"algorithm", "outcome"},
		),
		ActiveRuns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "active_runs",
				Help:      "Number of searches currently running",
			},
			[]string{"algorithm"},
		),
		IterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "iterations_total",
				Help:      "Total number of search iterations",
			},
			[]string{"algorithm"},
		),
		Coverage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "coverage_ratio",
				Help:      "Covered goal ratio of the best suite",
			},
			[]string{"algorithm"},
		),
		Fitness: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "fitness",
				Help:      "Fitness of the best suite, lower is better",
			},
			[]string{"algorithm"},
		),
		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of search runs",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"algorithm", "outcome"},
		),
		ExecutionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: executorSubsys,
				Name:      "executions_total",
				Help:      "Total number of test executions",
			},
		),
		StatementsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: executorSubsys,
				Name:      "statements_total",
				Help:      "Total number of executed statements",
			},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: executorSubsys,
				Name:      "failures_total",
				Help:      "Executions that stopped early by kind",
			},
			[]string{"kind"},
		),
	}
}

// ExecutionHook returns a runner hook that counts executions.
func (m *SearchMetrics) ExecutionHook() fitness.ExecutionHook {
	return func(_ *testcase.TestChromosome, result *trace.ExecutionResult) {
		m.ExecutionsTotal.Inc()
		if result == nil {
			return
		}
		m.StatementsTotal.Add(float64(result.ExecutedStatements))
		if result.HasTimeout() {
			m.FailuresTotal.WithLabelValues("timeout").Inc()
		}
		if result.HasException() {
			m.FailuresTotal.WithLabelValues("exception").Inc()
		}
	}
}

// RecordRun records a finished run that was not observed by a Listener,
// such as one that failed before starting.
func (m *SearchMetrics) RecordRun(algorithm, outcome string, d time.Duration) {
	m.RunsTotal.WithLabelValues(algorithm, outcome).Inc()
	m.RunDurationSeconds.WithLabelValues(algorithm, outcome).Observe(d.Seconds())
}

// Listener reports the progress of one search. A run whose context is done
// when the search finishes is recorded as cancelled.
type Listener struct {
	metrics *SearchMetrics
	ctx     context.Context

	mu        sync.Mutex
	iteration int
	active    string
	started   bool
}

// NewListener returns a listener for a single run driven by ctx.
func (m *SearchMetrics) NewListener(ctx context.Context) *Listener {
	return &Listener{metrics: m, ctx: ctx}
}

var _ ga.SearchListener = (*Listener)(nil)

func (l *Listener) SearchStarted(s ga.Status) {
	l.mu.Lock()
	l.started = true
	l.active = s.Algorithm
	l.mu.Unlock()

	l.metrics.ActiveRuns.WithLabelValues(s.Algorithm).Inc()
	l.update(s)
}

func (l *Listener) IterationDone(s ga.Status) {
	l.update(s)
}

func (l *Listener) SearchFinished(s ga.Status) {
	l.update(s)
	l.release()

	outcome := OutcomeCompleted
	if l.ctx.Err() != nil {
		outcome = OutcomeCancelled
	}

	l.metrics.RecordRun(s.Algorithm, outcome, s.Elapsed)
}

// Close releases the active run of a search that stopped without finishing,
// such as one whose Generate returned an error. It is a no-op otherwise.
func (l *Listener) Close() {
	l.release()
}

func (l *Listener) release() {
	l.mu.Lock()
	started, algorithm := l.started, l.active
	l.started = false
	l.mu.Unlock()

	if started {
		l.metrics.ActiveRuns.WithLabelValues(algorithm).Dec()
	}
}

func (l *Listener) update(s ga.Status) {
	l.mu.Lock()
	delta := s.Iteration - l.iteration
	if delta > 0 {
		l.iteration = s.Iteration
	}
	l.mu.Unlock()

	if delta > 0 {
		l.metrics.IterationsTotal.WithLabelValues(s.Algorithm).Add(float64(delta))
	}
	l.metrics.Coverage.WithLabelValues(s.Algorithm).Set(s.Coverage)
	l.metrics.Fitness.WithLabelValues(s.Algorithm).Set(s.Fitness)
}
