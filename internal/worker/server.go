package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/artprep/internal/config"
	"github.com/dunamismax/artprep/internal/queue"
)

type stagedObjects interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Server consumes jobs from the durable queue backend.
type Server struct {
	logger  *log.Logger
	server  *asynq.Server
	storage stagedObjects
	runner  *Runner
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, storage stagedObjects, runner *Runner) (*Server, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}

	return &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: max(1, workerCfg.Concurrency),
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		storage: storage,
		runner:  runner,
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessArtwork, s.handleProcessArtwork)
	return s.server.Run(mux)
}

// handleProcessArtwork never returns a retryable error: by the time it
// returns, the job's callback has been attempted.
func (s *Server) handleProcessArtwork(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseProcessArtworkPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = context.WithoutCancel(ctx)

	source, err := s.storage.ReadObject(ctx, payload.ObjectKey)
	if err != nil {
		s.runner.Fail(ctx, payload.Job(nil), fmt.Errorf("load staged upload: %w", err))
		return fmt.Errorf("read staged upload job_id=%s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	job := payload.Job(source)
	s.runner.Run(ctx, job)

	if err := s.storage.DeleteObject(ctx, payload.ObjectKey); err != nil {
		s.logger.Printf("staged upload cleanup failed job_id=%s object_key=%s err=%v", job.ID, payload.ObjectKey, err)
	}
	return nil
}
