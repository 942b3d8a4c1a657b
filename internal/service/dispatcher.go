package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/progress"
)

const (
	TaskTypeVideoGenerate = "video:generate"
	QueueVideo            = "video"
)

// Runner executes one pipeline run to completion.
type Runner interface {
	Run(ctx context.Context, spec model.JobSpec) (string, error)
}

// Dispatcher starts runs asynchronously and cancels them.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
	Cancel(ctx context.Context, job *Job) error
	// Active reports whether job has a run in flight given its current record.
	Active(job *Job, rec model.ProgressRecord) bool
}

// InProcessDispatcher runs each job in its own goroutine.
type InProcessDispatcher struct {
	runner Runner
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewInProcessDispatcher(runner Runner, logger zerolog.Logger) *InProcessDispatcher {
	base, stop := context.WithCancel(context.Background())
	return &InProcessDispatcher{
		runner: runner,
		base:   base,
		stop:   stop,
		logger: logging.Component(logger, "dispatcher"),
	}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, job *Job) error {
	if err := d.base.Err(); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}
	runCtx, cancel := context.WithCancel(d.base)
	done := job.begin(cancel, "")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer job.end(done)

		if _, err := d.runner.Run(runCtx, job.Spec); err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.ID()).Msg("run finished with failure")
		}
	}()
	return nil
}

func (d *InProcessDispatcher) Cancel(ctx context.Context, job *Job) error {
	if !job.cancelRun() {
		return fmt.Errorf("job %s: %w", job.ID(), ErrJobNotRunning)
	}
	return nil
}

func (d *InProcessDispatcher) Active(job *Job, rec model.ProgressRecord) bool {
	return job.Running()
}

// Shutdown cancels every running job and waits for the runs to record
// their outcome.
func (d *InProcessDispatcher) Shutdown(ctx context.Context) error {
	d.stop()
	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewVideoTask builds the queue task carrying a job's spec.
func NewVideoTask(spec model.JobSpec) (*asynq.Task, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVideoGenerate, data), nil
}

// AsynqDispatcher enqueues runs for a PipelineWorker, possibly in another
// process. Run state lives in the progress record, not in this process.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	store     progress.Store
	logger    zerolog.Logger
	now       func() time.Time
}

func NewAsynqDispatcher(client *asynq.Client, inspector *asynq.Inspector, store progress.Store, logger zerolog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:    client,
		inspector: inspector,
		store:     store,
		logger:    logging.Component(logger, "dispatcher"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, job *Job) error {
	task, err := NewVideoTask(job.Spec)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	taskID := fmt.Sprintf("%s:%s", job.ID(), uuid.NewString())
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueVideo),
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	job.begin(nil, info.ID)
	d.logger.Info().Str("job_id", job.ID()).Str("task_id", info.ID).Msg("run enqueued")
	return nil
}

// Cancel removes a still-queued task, recording the cancellation itself,
// or signals the worker processing it.
func (d *AsynqDispatcher) Cancel(ctx context.Context, job *Job) error {
	taskID := job.TaskID()
	if taskID == "" {
		return fmt.Errorf("job %s: %w", job.ID(), ErrJobNotRunning)
	}

	if err := d.inspector.DeleteTask(QueueVideo, taskID); err == nil {
		_, err := d.store.Update(ctx, job.ID(), progress.Fail(model.ErrorKindCanceled, "canceled before start", d.now()))
		return err
	}

	if err := d.inspector.CancelProcessing(taskID); err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	return nil
}

func (d *AsynqDispatcher) Active(job *Job, rec model.ProgressRecord) bool {
	return job.TaskID() != "" && !rec.Stage.Terminal()
}
