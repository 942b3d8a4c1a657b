// Package pipeline sequences the video stages, persists progress around
// each of them and turns any stage error into a recorded failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/progress"
)

// Entry and exit progress per stage. Splicing exits straight into completed.
var stageBounds = map[model.Stage]struct{ entry, exit int }{
	model.StageGeneratingStory:  {10, 15},
	model.StageGeneratingScenes: {20, 25},
	model.StageGeneratingImages: {40, 45},
	model.StageGeneratingAudio:  {60, 65},
	model.StageGeneratingVideos: {80, 85},
	model.StageSplicingVideo:    {90, 100},
}

// failureWriteTimeout bounds the failure write, which runs even after the
// run context is gone.
const failureWriteTimeout = 10 * time.Second

type Options struct {
	// StageTimeout bounds every single collaborator call. Zero disables it.
	StageTimeout time.Duration
	// SceneConcurrency caps parallel per-scene calls inside one stage.
	SceneConcurrency int
	StoryTemperature float64
	SceneTemperature float64
	Image            ImageParams
}

// Orchestrator runs the stage state machine for one job at a time per Run
// call. It holds no per-job state, so one instance serves every job.
type Orchestrator struct {
	store        progress.Store
	collab       Collaborators
	participants map[string]model.Participant
	opts         Options
	observer     observers
	logger       zerolog.Logger
	now          func() time.Time
}

// NewOrchestrator wires the collaborators and the read-only participant
// mapping. The mapping is copied so later edits by the caller are not seen.
func NewOrchestrator(store progress.Store, collab Collaborators, participants map[string]model.Participant, opts Options, logger zerolog.Logger, obs ...Observer) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("pipeline: progress store is required")
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if opts.SceneConcurrency < 1 {
		opts.SceneConcurrency = 1
	}
	mapping := make(map[string]model.Participant, len(participants))
	for id, p := range participants {
		mapping[id] = p
	}
	return &Orchestrator{
		store:        store,
		collab:       collab,
		participants: mapping,
		opts:         opts,
		observer:     observers(obs),
		logger:       logging.Component(logger, "pipeline"),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run drives one job from story to final video. The job's record must
// already be initialized. On failure the record is marked failed before
// the *StageFailure is returned.
func (o *Orchestrator) Run(ctx context.Context, spec model.JobSpec) (string, error) {
	logger := o.logger.With().Str("job_id", spec.JobID).Logger()
	logger.Info().Str("event_type", "job_start").Strs("participants", spec.ParticipantIDs).Msg("pipeline started")

	if len(spec.ParticipantIDs) == 0 {
		return "", o.fail(ctx, spec.JobID, logger,
			newStageFailure(ctx, model.StageInitialized, fmt.Errorf("%w: no participants", ErrValidation)))
	}

	story, err := o.generateStory(ctx, spec, logger)
	if err != nil {
		return "", o.fail(ctx, spec.JobID, logger, err)
	}

	scenes, err := o.planScenes(ctx, spec, story, logger)
	if err != nil {
		return "", o.fail(ctx, spec.JobID, logger, err)
	}

	images, audio, err := o.renderImagesAndAudio(ctx, spec, scenes, logger)
	if err != nil {
		return "", o.fail(ctx, spec.JobID, logger, err)
	}

	videos, err := o.renderVideos(ctx, spec, images, logger)
	if err != nil {
		return "", o.fail(ctx, spec.JobID, logger, err)
	}

	final, err := o.splice(ctx, spec, videos, audio, logger)
	if err != nil {
		return "", o.fail(ctx, spec.JobID, logger, err)
	}

	logger.Info().Str("event_type", "job_complete").Str("final_video_path", final).Msg("pipeline completed")
	return final, nil
}

// renderImagesAndAudio fans out the two sibling stages and joins them. Both
// entry writes land before either sibling starts, so the record never shows
// images' entry progress after audio's. The join returns only when both
// siblings have finished; any failure discards the other's result.
func (o *Orchestrator) renderImagesAndAudio(ctx context.Context, spec model.JobSpec, scenes []model.ScenePrompt, logger zerolog.Logger) ([]string, []string, error) {
	if err := o.enter(ctx, spec.JobID, model.StageGeneratingImages, logger); err != nil {
		return nil, nil, err
	}
	if err := o.enter(ctx, spec.JobID, model.StageGeneratingAudio, logger); err != nil {
		return nil, nil, err
	}

	// joinMu keeps each sibling's result write and its event together, so
	// observers see sibling completions in write order.
	var joinMu sync.Mutex
	var images, audio []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		paths, err := o.renderImages(gctx, spec, scenes)
		if err != nil {
			return newStageFailure(ctx, model.StageGeneratingImages, err)
		}
		joinMu.Lock()
		defer joinMu.Unlock()
		if err := o.advance(ctx, spec.JobID, model.StageGeneratingImages, logger, func(a *model.Artifacts) {
			a.ImagePaths = paths
		}); err != nil {
			return err
		}
		images = paths
		return nil
	})
	g.Go(func() error {
		paths, err := o.synthesizeAudio(gctx, spec, scenes)
		if err != nil {
			return newStageFailure(ctx, model.StageGeneratingAudio, err)
		}
		joinMu.Lock()
		defer joinMu.Unlock()
		if err := o.advance(ctx, spec.JobID, model.StageGeneratingAudio, logger, func(a *model.Artifacts) {
			a.AudioPaths = paths
		}); err != nil {
			return err
		}
		audio = paths
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return images, audio, nil
}

// enter writes stage and its entry progress, then notifies observers.
func (o *Orchestrator) enter(ctx context.Context, jobID string, stage model.Stage, logger zerolog.Logger) error {
	rec, err := o.store.Update(ctx, jobID, progress.Enter(stage, stageBounds[stage].entry, o.now()))
	if err != nil {
		return newStageFailure(ctx, stage, fmt.Errorf("record stage start: %w", err))
	}
	logger.Info().Str("event_type", "stage_start").Str("stage", string(stage)).Int("progress", rec.Progress).Msg("stage started")
	o.observer.OnEvent(Event{Type: EventStageStarted, JobID: jobID, Stage: stage, Record: rec})
	return nil
}

// advance merges a finished stage's output and its exit progress in one write.
func (o *Orchestrator) advance(ctx context.Context, jobID string, stage model.Stage, logger zerolog.Logger, merge func(*model.Artifacts)) error {
	rec, err := o.store.Update(ctx, jobID, progress.Advance(stage, stageBounds[stage].exit, merge))
	if err != nil {
		return newStageFailure(ctx, stage, fmt.Errorf("record stage result: %w", err))
	}
	logger.Info().Str("event_type", "stage_complete").Str("stage", string(stage)).Int("progress", rec.Progress).Msg("stage completed")
	o.observer.OnEvent(Event{Type: EventStageCompleted, JobID: jobID, Stage: stage, Record: rec})
	return nil
}

// fail records err on the job and returns it as a *StageFailure. The write
// uses a detached context so a canceled run still leaves a failed record.
// A record that was already terminal is never rewritten.
func (o *Orchestrator) fail(ctx context.Context, jobID string, logger zerolog.Logger, err error) error {
	sf := newStageFailure(ctx, model.StageFailed, err)
	if errors.Is(err, progress.ErrTerminal) {
		logger.Warn().Err(err).Msg("record already terminal, run skipped")
		return sf
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	rec, werr := o.store.Update(wctx, jobID, progress.Fail(sf.Kind, sf.Error(), o.now()))
	logger.Error().
		Err(sf.Err).
		Str("event_type", "stage_failure").
		Str("stage", string(sf.Stage)).
		Str("error_kind", string(sf.Kind)).
		Msg("pipeline failed")
	if werr != nil {
		if !errors.Is(werr, progress.ErrTerminal) {
			logger.Error().Err(werr).Msg("failed to record job failure")
		}
		return sf
	}
	o.observer.OnEvent(Event{Type: EventJobFailed, JobID: jobID, Stage: sf.Stage, Record: rec, Err: sf})
	return sf
}

// call bounds one collaborator call by the stage timeout.
func (o *Orchestrator) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.opts.StageTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	defer cancel()
	err := fn(cctx)
	if err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, o.opts.StageTimeout, err)
	}
	return err
}
