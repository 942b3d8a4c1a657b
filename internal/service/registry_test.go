package service

import (
	"errors"
	"testing"
	"time"

	"github.com/makeasinger/videogen/internal/model"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	job := newJob(model.JobSpec{JobID: "b", ParticipantIDs: []string{"x"}, Brief: "y"}, time.Now())
	if err := r.Register(job); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newJob(model.JobSpec{JobID: "b"}, time.Now())); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	_ = r.Register(newJob(model.JobSpec{JobID: "a"}, time.Now()))

	got, err := r.Lookup("b")
	if err != nil || got != job {
		t.Fatalf("lookup returned %v, %v", got, err)
	}
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestJobCopiesParticipants(t *testing.T) {
	ids := []string{"x", "y"}
	job := newJob(model.JobSpec{JobID: "j", ParticipantIDs: ids}, time.Now())
	ids[0] = "mutated"
	if job.Spec.ParticipantIDs[0] != "x" {
		t.Fatal("job spec shares the caller's participant slice")
	}
}

func TestJobEndKeepsNewerRun(t *testing.T) {
	job := newJob(model.JobSpec{JobID: "j"}, time.Now())
	first := job.begin(nil, "")
	second := job.begin(nil, "")
	job.end(first)
	if !job.Running() {
		t.Fatal("ending an older run cleared the newer one")
	}
	job.end(second)
	if job.Running() {
		t.Fatal("expected job idle after its latest run ended")
	}
}
