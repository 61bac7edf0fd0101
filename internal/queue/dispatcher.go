package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/artprep/internal/domain"
	"github.com/dunamismax/artprep/internal/id"
	"github.com/dunamismax/artprep/internal/storage"
)

type enqueuer interface {
	EnqueueProcessArtwork(ctx context.Context, payload ProcessArtworkPayload) (*asynq.TaskInfo, error)
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, objectKey string) error
}

// Dispatcher is the durable detached backend: it stages the upload in object
// storage and enqueues a task for cmd/worker.
type Dispatcher struct {
	logger  *log.Logger
	queue   enqueuer
	storage objectWriter
}

func NewDispatcher(logger *log.Logger, queue enqueuer, storage objectWriter) *Dispatcher {
	return &Dispatcher{
		logger:  logger,
		queue:   queue,
		storage: storage,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	objectKey := storage.StagedUploadKey(job.ID, id.New())
	if err := d.storage.WriteObject(ctx, objectKey, job.Source, "application/octet-stream"); err != nil {
		return fmt.Errorf("stage upload: %w", err)
	}

	requestedAt := job.AcceptedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	info, err := d.queue.EnqueueProcessArtwork(ctx, ProcessArtworkPayload{
		JobID:       job.ID,
		WebhookURL:  job.CallbackURL,
		ObjectKey:   objectKey,
		Options:     job.Options,
		RequestedAt: requestedAt,
	})
	if err != nil {
		if derr := d.storage.DeleteObject(ctx, objectKey); derr != nil {
			d.logger.Printf("staged upload cleanup failed job_id=%s object_key=%s err=%v", job.ID, objectKey, derr)
		}
		return fmt.Errorf("enqueue job: %w", err)
	}

	d.logger.Printf("job enqueued job_id=%s queue=%s task_id=%s object_key=%s", job.ID, info.Queue, info.ID, objectKey)
	return nil
}
