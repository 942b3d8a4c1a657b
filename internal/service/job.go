package service

import (
	"context"
	"sync"
	"time"

	"github.com/makeasinger/videogen/internal/model"
)

// Job is the process-local handle for one video job. Its spec never
// changes after creation; run state is tracked here only so the service
// can refuse concurrent runs and cancel the active one.
type Job struct {
	Spec      model.JobSpec
	CreatedAt time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	taskID  string
	done    chan struct{}
}

func newJob(spec model.JobSpec, now time.Time) *Job {
	spec.ParticipantIDs = append([]string(nil), spec.ParticipantIDs...)
	return &Job{Spec: spec, CreatedAt: now}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.Spec.JobID }

// Running reports whether a run started by this process is still active.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// TaskID returns the queue task id of the latest dispatched run, if any.
func (j *Job) TaskID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.taskID
}

// Done is closed when the latest in-process run returns. It is nil until
// a run has started.
func (j *Job) Done() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

// begin marks a new run and returns the channel its end call closes.
func (j *Job) begin(cancel context.CancelFunc, taskID string) chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	done := make(chan struct{})
	j.running = true
	j.cancel = cancel
	j.taskID = taskID
	j.done = done
	return done
}

// end finishes the run that begin returned done for. A newer run started
// in the meantime keeps its state.
func (j *Job) end(done chan struct{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	close(done)
	if j.done == done {
		j.running = false
		j.cancel = nil
	}
}

func (j *Job) cancelRun() bool {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}
