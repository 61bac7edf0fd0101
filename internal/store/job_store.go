package store

import (
	"context"
	"errors"

	"github.com/dunamismax/artprep/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore journals detached jobs. Journal writes are best effort: callers
// log failures and continue.
type JobStore interface {
	Create(ctx context.Context, rec domain.JobRecord) error
	Get(ctx context.Context, id string) (domain.JobRecord, bool, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Complete(ctx context.Context, id string, c domain.JobCompletion) error
	RecordDelivery(ctx context.Context, id string, deliveryErr error) error
}
