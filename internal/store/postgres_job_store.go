package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/dunamismax/artprep/internal/domain"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS artprep_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	callback_url TEXT NOT NULL,
	options JSONB NOT NULL,
	pixels_processed BIGINT NOT NULL DEFAULT 0,
	compute_time_ms BIGINT NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	delivered BOOLEAN NOT NULL DEFAULT FALSE,
	delivery_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresJobStore struct {
	db *sql.DB
}

var _ JobStore = (*PostgresJobStore)(nil)

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

// Create upserts: job IDs come from callers and may be reused.
func (s *PostgresJobStore) Create(ctx context.Context, rec domain.JobRecord) error {
	optionsJSON, err := json.Marshal(rec.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO artprep_jobs (id, status, callback_url, options, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			callback_url = EXCLUDED.callback_url,
			options = EXCLUDED.options,
			pixels_processed = 0,
			compute_time_ms = 0,
			error = '',
			delivered = FALSE,
			delivery_error = '',
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		rec.ID,
		rec.Status,
		rec.CallbackURL,
		optionsJSON,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.JobRecord, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, callback_url, options, pixels_processed, compute_time_ms,
			error, delivered, delivery_error, created_at, updated_at
		 FROM artprep_jobs
		 WHERE id = $1`,
		id,
	)

	var (
		rec         domain.JobRecord
		optionsJSON []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Status,
		&rec.CallbackURL,
		&optionsJSON,
		&rec.PixelsProcessed,
		&rec.ComputeTimeMS,
		&rec.Error,
		&rec.Delivered,
		&rec.DeliveryError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JobRecord{}, false, nil
		}
		return domain.JobRecord{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(optionsJSON, &rec.Options); err != nil {
		return domain.JobRecord{}, false, fmt.Errorf("unmarshal job options: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) error {
	return s.exec(ctx, "update job status",
		`UPDATE artprep_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, c domain.JobCompletion) error {
	return s.exec(ctx, "complete job",
		`UPDATE artprep_jobs
		 SET status = $1, pixels_processed = $2, compute_time_ms = $3, error = $4, updated_at = $5
		 WHERE id = $6`,
		c.Status, c.PixelsProcessed, c.ComputeTimeMS, c.Error, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) RecordDelivery(ctx context.Context, id string, deliveryErr error) error {
	msg := ""
	if deliveryErr != nil {
		msg = deliveryErr.Error()
	}
	return s.exec(ctx, "record job delivery",
		`UPDATE artprep_jobs SET delivered = $1, delivery_error = $2, updated_at = $3 WHERE id = $4`,
		deliveryErr == nil, msg, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
