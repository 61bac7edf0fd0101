package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	queuedJobs           prometheus.Gauge
	rejectedTotal        prometheus.Counter
	callbacksTotal       *prometheus.CounterVec
	pixelsProcessedTotal prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artprep_worker_jobs_total",
			Help: "Total detached jobs by backend and final status.",
		}, []string{"backend", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artprep_worker_job_duration_seconds",
			Help:    "Total processing duration for each detached job.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"backend", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artprep_worker_active_jobs",
			Help: "Current number of detached jobs being processed.",
		}),
		queuedJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "artprep_worker_queued_jobs",
			Help: "Detached jobs accepted and waiting for a pool worker.",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artprep_worker_rejected_jobs_total",
			Help: "Detached jobs rejected because the pool backlog was full.",
		}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "artprep_worker_callbacks_total",
			Help: "Callback deliveries by event and result.",
		}, []string{"event", "result"}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artprep_usage_pixels_processed_total",
			Help: "Total output pixels produced across successful detached jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "artprep_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful detached jobs.",
		}),
	}

	reg.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.queuedJobs,
		m.rejectedTotal,
		m.callbacksTotal,
		m.pixelsProcessedTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func newDiscardMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
