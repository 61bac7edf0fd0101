// Package execution runs the pipeline inline for a request or hands it to a
// detached backend that reports through a callback.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/imaging"
	"github.com/dunamismax/artprep/internal/pipeline"
	"github.com/dunamismax/artprep/internal/store"
)

var ErrInvalidRequest = errors.New("invalid request")

// Runner is satisfied by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, img *imaging.Buffer, opts domain.StageOptions) (pipeline.Outcome, error)
}

// Dispatcher accepts a detached job. It must return without waiting for the
// job to run, and must reject rather than block when it has no capacity.
type Dispatcher interface {
	Dispatch(ctx context.Context, job domain.Job) error
}

type Controller struct {
	logger     *log.Logger
	runner     Runner
	dispatcher Dispatcher
	journal    store.JobStore
	now        func() time.Time
}

func NewController(logger *log.Logger, runner Runner, dispatcher Dispatcher, journal store.JobStore) *Controller {
	return &Controller{
		logger:     logger,
		runner:     runner,
		dispatcher: dispatcher,
		journal:    journal,
		now:        time.Now,
	}
}

// Sync decodes the upload and runs the pipeline in the caller's goroutine.
// It returns either a full response or an error, never a partial result.
func (c *Controller) Sync(ctx context.Context, upload []byte, opts domain.StageOptions) (domain.ProcessResponse, error) {
	if err := opts.Validate(); err != nil {
		return domain.ProcessResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	resp, err := RunUpload(ctx, c.runner, upload, opts)
	if err != nil {
		c.logger.Printf("inline processing failed bytes=%d err=%v", len(upload), err)
		return domain.ProcessResponse{}, err
	}
	return resp, nil
}

// Async hands the job to the dispatcher and returns the ack. The job's bytes
// must already be fully buffered. The dispatched job does not inherit the
// request's cancellation.
func (c *Controller) Async(ctx context.Context, job domain.Job) (domain.AcceptedAck, error) {
	if err := job.Validate(); err != nil {
		return domain.AcceptedAck{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if job.AcceptedAt.IsZero() {
		job.AcceptedAt = c.now().UTC()
	}

	c.journalCreate(ctx, job)
	if err := c.dispatcher.Dispatch(context.WithoutCancel(ctx), job); err != nil {
		c.logger.Printf("dispatch failed job_id=%s err=%v", job.ID, err)
		c.journalFail(ctx, job.ID, err)
		return domain.AcceptedAck{}, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}

	c.logger.Printf("job accepted job_id=%s bytes=%d stages=%+v", job.ID, len(job.Source), job.Options.Steps())
	return domain.AcceptedAck{Success: true, JobID: job.ID}, nil
}

func (c *Controller) journalCreate(ctx context.Context, job domain.Job) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Create(ctx, domain.NewJobRecord(job)); err != nil {
		c.logger.Printf("journal create failed job_id=%s err=%v", job.ID, err)
	}
}

func (c *Controller) journalFail(ctx context.Context, jobID string, cause error) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Complete(ctx, jobID, domain.JobCompletion{Status: domain.JobStatusFailed, Error: cause.Error()}); err != nil {
		c.logger.Printf("journal update failed job_id=%s err=%v", jobID, err)
	}
}

// RunUpload decodes raw upload bytes, normalizes them to three channels and
// runs the pipeline. A panic anywhere below is converted into an error so a
// single bad input cannot take down the process.
func RunUpload(ctx context.Context, runner Runner, upload []byte, opts domain.StageOptions) (resp domain.ProcessResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	img, err := imaging.Decode(upload)
	if err != nil {
		return domain.ProcessResponse{}, err
	}
	img.ToRGB()

	out, err := runner.Run(ctx, img, opts)
	if err != nil {
		return domain.ProcessResponse{}, fmt.Errorf("run pipeline: %w", err)
	}
	return out.Response(), nil
}
