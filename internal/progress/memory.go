package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/makeasinger/videogen/internal/model"
)

// MemoryStore keeps records in a process-local map. Readers get clones and
// are only blocked for the duration of a map access.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.ProgressRecord
	keys    *keyedMutex
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]model.ProgressRecord),
		keys:    newKeyedMutex(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Initialize(ctx context.Context, jobID string, restart bool) (model.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ProgressRecord{}, err
	}
	unlock := s.keys.Lock(jobID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[jobID]; exists && !restart {
		return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrAlreadyExists)
	}
	rec := model.NewProgressRecord(jobID, s.now())
	s.records[jobID] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, jobID string, mutate Mutation) (model.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ProgressRecord{}, err
	}
	unlock := s.keys.Lock(jobID)
	defer unlock()

	s.mu.RLock()
	current, ok := s.records[jobID]
	s.mu.RUnlock()
	if !ok {
		return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return model.ProgressRecord{}, err
	}
	next.UpdatedAt = s.now()

	s.mu.Lock()
	s.records[jobID] = next
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) Read(ctx context.Context, jobID string) (model.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ProgressRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[jobID]
	if !ok {
		return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
