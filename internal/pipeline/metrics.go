package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records stage outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runDuration   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artprep_pipeline_stage_total",
			Help: "Pipeline stage executions by stage and path (primary, fallback, skipped).",
		}, []string{"stage", "path"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artprep_pipeline_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage", "path"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artprep_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of whole pipeline runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"degraded"}),
	}
	reg.MustRegister(m.stageTotal, m.stageDuration, m.runDuration)
	return m
}

func (m *Metrics) observeStage(stage, path string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageTotal.WithLabelValues(stage, path).Inc()
	m.stageDuration.WithLabelValues(stage, path).Observe(d.Seconds())
}

func (m *Metrics) observeRun(d time.Duration, degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.runDuration.WithLabelValues(label).Observe(d.Seconds())
}
