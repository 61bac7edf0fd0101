package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/artprep/internal/domain"
)

const DefaultMemoryJournalSize = 1024

// MemoryJobStore keeps the most recent capacity records. Once full, creating
// a record evicts the oldest one.
type MemoryJobStore struct {
	mu       sync.RWMutex
	capacity int
	jobs     map[string]domain.JobRecord
	order    []string
}

var _ JobStore = (*MemoryJobStore)(nil)

func NewMemoryJobStore(capacity int) *MemoryJobStore {
	if capacity <= 0 {
		capacity = DefaultMemoryJournalSize
	}
	return &MemoryJobStore{
		capacity: capacity,
		jobs:     make(map[string]domain.JobRecord, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Create replaces any earlier record with the same caller-supplied ID.
func (s *MemoryJobStore) Create(_ context.Context, rec domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[rec.ID]; !exists {
		for len(s.order) >= s.capacity {
			delete(s.jobs, s.order[0])
			s.order[0] = ""
			s.order = s.order[1:]
		}
		s.order = append(s.order, rec.ID)
	}
	s.jobs[rec.ID] = rec
	return nil
}

func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.JobRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	return rec, ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) error {
	return s.update(id, func(rec *domain.JobRecord) {
		rec.Status = status
	})
}

func (s *MemoryJobStore) Complete(_ context.Context, id string, c domain.JobCompletion) error {
	return s.update(id, func(rec *domain.JobRecord) {
		rec.Status = c.Status
		rec.PixelsProcessed = c.PixelsProcessed
		rec.ComputeTimeMS = c.ComputeTimeMS
		rec.Error = c.Error
	})
}

func (s *MemoryJobStore) RecordDelivery(_ context.Context, id string, deliveryErr error) error {
	return s.update(id, func(rec *domain.JobRecord) {
		rec.Delivered = deliveryErr == nil
		rec.DeliveryError = ""
		if deliveryErr != nil {
			rec.DeliveryError = deliveryErr.Error()
		}
	})
}

func (s *MemoryJobStore) update(id string, apply func(*domain.JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	apply(&rec)
	rec.UpdatedAt = time.Now().UTC()
	s.jobs[id] = rec
	return nil
}
