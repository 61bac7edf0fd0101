package worker

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/execution"
	"github.com/dunamismax/artprep/internal/store"
	"github.com/dunamismax/artprep/internal/webhook"
)

const (
	BackendPool  = "pool"
	BackendQueue = "queue"
)

type callbackSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Runner executes one detached job and delivers exactly one callback for it.
type Runner struct {
	logger  *log.Logger
	backend string
	runner  execution.Runner
	sender  callbackSender
	journal store.JobStore
	metrics *Metrics
	tracer  trace.Tracer
}

func NewRunner(logger *log.Logger, backend string, runner execution.Runner, sender callbackSender, journal store.JobStore, m *Metrics) *Runner {
	if m == nil {
		m = newDiscardMetrics()
	}
	return &Runner{
		logger:  logger,
		backend: backend,
		runner:  runner,
		sender:  sender,
		journal: journal,
		metrics: m,
		tracer:  otel.Tracer("github.com/dunamismax/artprep/internal/worker"),
	}
}

// Run is a pool Handler.
func (r *Runner) Run(ctx context.Context, job domain.Job) {
	startedAt := time.Now()
	status := domain.JobStatusFailed

	ctx, span := r.tracer.Start(ctx, "worker.process_artwork", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.backend", r.backend),
		attribute.Int("job.source_bytes", len(job.Source)),
	)
	defer span.End()

	r.metrics.activeJobs.Inc()
	defer func() {
		r.metrics.activeJobs.Dec()
		r.metrics.jobDuration.WithLabelValues(r.backend, status).Observe(time.Since(startedAt).Seconds())
		r.metrics.jobsTotal.WithLabelValues(r.backend, status).Inc()
	}()

	r.logger.Printf("Working... job_id=%s backend=%s bytes=%d", job.ID, r.backend, len(job.Source))
	r.updateStatus(ctx, job.ID, domain.JobStatusProcessing)

	resp, err := execution.RunUpload(ctx, r.runner, job.Source, job.Options)
	elapsed := time.Since(startedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		r.logger.Printf("job failed job_id=%s err=%v", job.ID, err)
		r.complete(ctx, job.ID, domain.JobCompletion{
			Status:        domain.JobStatusFailed,
			ComputeTimeMS: elapsed.Milliseconds(),
			Error:         err.Error(),
		})
		r.deliver(ctx, job, webhook.EventJobFailed, domain.FailureCallback(job.ID, err))
		return
	}

	status = domain.JobStatusSucceeded
	size := resp.Results.ProcessedSize
	pixels := int64(size[0]) * int64(size[1])
	computeMS := max(1, elapsed.Milliseconds())
	r.metrics.pixelsProcessedTotal.Add(float64(pixels))
	r.metrics.computeTimeMSTotal.Add(float64(computeMS))

	r.logger.Printf("Processed job_id=%s size=%dx%d degraded=%v", job.ID, size[0], size[1], resp.Degraded)
	r.complete(ctx, job.ID, domain.JobCompletion{
		Status:          domain.JobStatusSucceeded,
		PixelsProcessed: pixels,
		ComputeTimeMS:   computeMS,
	})
	r.deliver(ctx, job, webhook.EventJobCompleted, domain.SuccessCallback(job.ID, resp))
	span.SetStatus(codes.Ok, "processed")
}

// Fail reports a job that could not be started (for example because its
// staged upload is gone). It delivers the job's single failure callback.
func (r *Runner) Fail(ctx context.Context, job domain.Job, cause error) {
	r.metrics.jobsTotal.WithLabelValues(r.backend, domain.JobStatusFailed).Inc()
	r.logger.Printf("job failed before processing job_id=%s err=%v", job.ID, cause)
	r.complete(ctx, job.ID, domain.JobCompletion{Status: domain.JobStatusFailed, Error: cause.Error()})
	r.deliver(ctx, job, webhook.EventJobFailed, domain.FailureCallback(job.ID, cause))
}

// deliver never returns an error: delivery failures are logged and journaled.
func (r *Runner) deliver(ctx context.Context, job domain.Job, event string, payload domain.CallbackPayload) {
	err := r.sender.Send(ctx, job.CallbackURL, event, payload)
	result := "delivered"
	if err != nil {
		result = "failed"
		r.logger.Printf("callback delivery failed job_id=%s event=%s url=%s err=%v", job.ID, event, job.CallbackURL, err)
	}
	r.metrics.callbacksTotal.WithLabelValues(event, result).Inc()

	if r.journal != nil {
		if jerr := r.journal.RecordDelivery(ctx, job.ID, err); jerr != nil {
			r.logger.Printf("journal delivery update failed job_id=%s err=%v", job.ID, jerr)
		}
	}
}

func (r *Runner) updateStatus(ctx context.Context, jobID, status string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.UpdateStatus(ctx, jobID, status); err != nil {
		r.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (r *Runner) complete(ctx context.Context, jobID string, c domain.JobCompletion) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Complete(ctx, jobID, c); err != nil {
		r.logger.Printf("job completion update failed job_id=%s err=%v", jobID, err)
	}
}
