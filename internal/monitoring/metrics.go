package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/tender-cli/internal/model"
)

const (
	// MetricsNamespace is the namespace for all tender-cli metrics.
	MetricsNamespace = "tender"

	// MetricsSubsystem is the subsystem for pipeline metrics.
	MetricsSubsystem = "pipeline"
)

// Metrics holds the Prometheus collectors fed by pipeline runs. It
// satisfies pipeline.Observer.
type Metrics struct {
	StageOutcomes   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	RecordsTotal    *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	RunWarnings     prometheus.Counter
	RunDuration     prometheus.Histogram
	LastRunFinished prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics. A nil registerer
// uses the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "stage_outcomes_total",
				Help:      "Stage outcomes per record, by status and failure class",
			},
			[]string{"stage", "status", "class"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in one stage for one record",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"stage"},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "records_total",
				Help:      "Records fetched and sinked across runs",
			},
			[]string{"state"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "runs_total",
				Help:      "Completed runs",
			},
			[]string{"interrupted"},
		),
		RunWarnings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "run_warnings_total",
				Help:      "Run-level warnings such as source format changes",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
			},
		),
		LastRunFinished: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: MetricsNamespace,
				Subsystem: MetricsSubsystem,
				Name:      "last_run_finished_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
	}
}

// ObserveStage records one stage outcome.
func (m *Metrics) ObserveStage(stage model.Stage, status model.StageStatus, class model.ErrorClass, d time.Duration) {
	m.StageOutcomes.WithLabelValues(string(stage), string(status), string(class)).Inc()
	if status == model.StageDone {
		m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(s *model.RunSummary) {
	interrupted := "false"
	if s.Interrupted {
		interrupted = "true"
	}
	m.RunsTotal.WithLabelValues(interrupted).Inc()
	m.RecordsTotal.WithLabelValues("fetched").Add(float64(s.Counts.Fetched))
	m.RecordsTotal.WithLabelValues("sinked").Add(float64(s.Counts.Sinked))
	m.RunWarnings.Add(float64(len(s.Warnings)))
	m.RunDuration.Observe(s.Duration().Seconds())
	if !s.FinishedAt.IsZero() {
		m.LastRunFinished.Set(float64(s.FinishedAt.Unix()))
	}
}
