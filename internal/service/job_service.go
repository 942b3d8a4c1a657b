package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/progress"
)

// JobService is the entry point for creating, starting, observing and
// canceling video jobs.
type JobService struct {
	store      progress.Store
	registry   *Registry
	dispatcher Dispatcher
	logger     zerolog.Logger
	now        func() time.Time

	// startMu makes the running check and the dispatch one step.
	startMu sync.Mutex
}

func NewJobService(store progress.Store, registry *Registry, dispatcher Dispatcher, logger zerolog.Logger) *JobService {
	return &JobService{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logging.Component(logger, "job_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a job and initializes its progress record. An empty
// JobID is replaced by a generated one.
func (s *JobService) Create(ctx context.Context, spec model.JobSpec) (*Job, error) {
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	job := newJob(spec, s.now())
	if err := s.registry.Register(job); err != nil {
		return nil, err
	}

	if _, err := s.store.Initialize(ctx, job.ID(), false); err != nil {
		s.registry.remove(job.ID())
		if errors.Is(err, progress.ErrAlreadyExists) {
			return nil, fmt.Errorf("job %s: %w", job.ID(), ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to initialize progress: %w", err)
	}

	s.logger.Info().Str("job_id", job.ID()).Strs("participants", spec.ParticipantIDs).Msg("job created")
	return job, nil
}

// Start begins a run and returns immediately. A job whose last run ended
// is restarted from a fresh record.
func (s *JobService) Start(ctx context.Context, jobID string) error {
	job, err := s.registry.Lookup(jobID)
	if err != nil {
		return err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	rec, err := s.store.Read(ctx, jobID)
	switch {
	case errors.Is(err, progress.ErrNotFound):
		if _, err := s.store.Initialize(ctx, jobID, false); err != nil {
			return fmt.Errorf("failed to initialize progress: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read progress: %w", err)
	case s.dispatcher.Active(job, rec):
		return fmt.Errorf("job %s: %w", jobID, ErrJobRunning)
	case rec.Stage != model.StageInitialized:
		if _, err := s.store.Initialize(ctx, jobID, true); err != nil {
			return fmt.Errorf("failed to reset progress: %w", err)
		}
		s.logger.Info().Str("job_id", jobID).Str("previous_stage", string(rec.Stage)).Msg("restarting job")
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		return fmt.Errorf("failed to dispatch job: %w", err)
	}
	return nil
}

// CreateAndStart is Create followed by Start.
func (s *JobService) CreateAndStart(ctx context.Context, spec model.JobSpec) (*Job, error) {
	job, err := s.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx, job.ID()); err != nil {
		return nil, err
	}
	return job, nil
}

// GetProgress returns a snapshot of the job's record. Jobs unknown to this
// process are still served when the store kept their record.
func (s *JobService) GetProgress(ctx context.Context, jobID string) (model.ProgressRecord, error) {
	if _, err := s.registry.Lookup(jobID); err != nil {
		s.logger.Debug().Str("job_id", jobID).Msg("job not registered, reading store directly")
	}
	rec, err := s.store.Read(ctx, jobID)
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			return model.ProgressRecord{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return model.ProgressRecord{}, err
	}
	return rec, nil
}

// Cancel stops the job's active run. The run records the cancellation.
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.registry.Lookup(jobID)
	if err != nil {
		return err
	}
	rec, err := s.store.Read(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}
	if !s.dispatcher.Active(job, rec) || rec.Stage.Terminal() {
		return fmt.Errorf("job %s: %w", jobID, ErrJobNotRunning)
	}
	if err := s.dispatcher.Cancel(ctx, job); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("cancel requested")
	return nil
}

// Registry exposes the job registry for read-only callers.
func (s *JobService) Registry() *Registry { return s.registry }

func validateSpec(spec model.JobSpec) error {
	if strings.ContainsAny(spec.JobID, "/?#% ") {
		return fmt.Errorf("%w: job id %q contains reserved characters", ErrInvalidJob, spec.JobID)
	}
	if len(spec.ParticipantIDs) == 0 {
		return fmt.Errorf("%w: at least one participant is required", ErrInvalidJob)
	}
	for i, id := range spec.ParticipantIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: participant %d is empty", ErrInvalidJob, i)
		}
	}
	if strings.TrimSpace(spec.Brief) == "" {
		return fmt.Errorf("%w: brief is required", ErrInvalidJob)
	}
	return nil
}
