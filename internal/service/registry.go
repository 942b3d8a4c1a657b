package service

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps job ids to their process-local handles. Entries live for
// the lifetime of the process.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds job, failing with ErrAlreadyExists on an id collision.
func (r *Registry) Register(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID()]; exists {
		return fmt.Errorf("job %s: %w", job.ID(), ErrAlreadyExists)
	}
	r.jobs[job.ID()] = job
	return nil
}

// Lookup returns the handle for id or ErrNotFound.
func (r *Registry) Lookup(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// IDs returns the registered job ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
