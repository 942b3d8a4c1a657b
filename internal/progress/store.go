// Package progress persists the per-job ProgressRecord behind a swappable
// Store interface. Every backend serializes Update per job id.
package progress

import (
	"context"
	"errors"

	"github.com/makeasinger/videogen/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a job id.
	ErrNotFound = errors.New("progress record not found")
	// ErrAlreadyExists is returned by Initialize when a record exists and
	// the caller did not ask for a restart.
	ErrAlreadyExists = errors.New("progress record already exists")
	// ErrTerminal is returned by mutations that refuse to touch a record
	// that already reached completed or failed.
	ErrTerminal = errors.New("progress record is terminal")
)

// Mutation edits a private copy of the current record. Returning an error
// aborts the write and the error is passed back to the Update caller.
type Mutation func(rec *model.ProgressRecord) error

// Store is the per-job progress persistence contract.
type Store interface {
	// Initialize creates a fresh record in the initialized state. With
	// restart set, an existing record is replaced instead of rejected.
	Initialize(ctx context.Context, jobID string, restart bool) (model.ProgressRecord, error)
	// Update applies a read-modify-write and returns the written snapshot.
	Update(ctx context.Context, jobID string, mutate Mutation) (model.ProgressRecord, error)
	// Read returns a snapshot of the current record.
	Read(ctx context.Context, jobID string) (model.ProgressRecord, error)
	Close() error
}
