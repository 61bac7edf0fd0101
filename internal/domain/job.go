package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusAccepted   = "accepted"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// Job is a detached run. The ID and callback URL come from the caller.
type Job struct {
	ID          string
	CallbackURL string
	Source      []byte
	Options     StageOptions
	AcceptedAt  time.Time
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("jobId is required")
	}
	if err := ValidateCallbackURL(j.CallbackURL); err != nil {
		return err
	}
	if len(j.Source) == 0 {
		return errors.New("image is required")
	}
	return j.Options.Validate()
}

func ValidateCallbackURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("webhookUrl is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhookUrl: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhookUrl must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("webhookUrl must include a host")
	}
	return nil
}

// JobRecord is the journal row for a detached job. It is write-only from the
// service's point of view; nothing reads it back to answer status queries.
type JobRecord struct {
	ID              string
	Status          string
	CallbackURL     string
	Options         StageOptions
	PixelsProcessed int64
	ComputeTimeMS   int64
	Error           string
	Delivered       bool
	DeliveryError   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewJobRecord(job Job) JobRecord {
	accepted := job.AcceptedAt
	if accepted.IsZero() {
		accepted = time.Now().UTC()
	}
	return JobRecord{
		ID:          job.ID,
		Status:      JobStatusAccepted,
		CallbackURL: job.CallbackURL,
		Options:     job.Options,
		CreatedAt:   accepted,
		UpdatedAt:   accepted,
	}
}

// JobCompletion is the terminal state written to the journal after a run.
type JobCompletion struct {
	Status          string
	PixelsProcessed int64
	ComputeTimeMS   int64
	Error           string
}
