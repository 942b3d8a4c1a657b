package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/progress"
)

func (o *Orchestrator) generateStory(ctx context.Context, spec model.JobSpec, logger zerolog.Logger) (model.StoryDescription, error) {
	stage := model.StageGeneratingStory
	if err := o.enter(ctx, spec.JobID, stage, logger); err != nil {
		return model.StoryDescription{}, err
	}

	var text string
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		text, err = o.collab.Text.Generate(ctx, buildStoryPrompt(spec.ParticipantIDs, spec.Brief), TextOptions{
			Temperature: o.opts.StoryTemperature,
		})
		return err
	})
	if err != nil {
		return model.StoryDescription{}, newStageFailure(ctx, stage, fmt.Errorf("generate story: %w", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.StoryDescription{}, newStageFailure(ctx, stage, fmt.Errorf("%w: empty story description", ErrService))
	}

	story := model.StoryDescription{Description: text}
	if err := o.advance(ctx, spec.JobID, stage, logger, func(a *model.Artifacts) {
		a.StoryDescription = story.Description
	}); err != nil {
		return model.StoryDescription{}, err
	}
	return story, nil
}

// planScenes asks for a structured scene list. Scene count and character
// membership are passed through as returned; render_images checks ids.
func (o *Orchestrator) planScenes(ctx context.Context, spec model.JobSpec, story model.StoryDescription, logger zerolog.Logger) ([]model.ScenePrompt, error) {
	stage := model.StageGeneratingScenes
	if err := o.enter(ctx, spec.JobID, stage, logger); err != nil {
		return nil, err
	}

	var raw string
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		raw, err = o.collab.Text.Generate(ctx, buildScenePrompt(story, spec.ParticipantIDs), TextOptions{
			System:       sceneSystemPrompt,
			Temperature:  o.opts.SceneTemperature,
			JSONResponse: true,
		})
		return err
	})
	if err != nil {
		return nil, newStageFailure(ctx, stage, fmt.Errorf("generate scenes: %w", err))
	}

	if _, err := o.store.Update(ctx, spec.JobID, progress.Annotate(func(a *model.Artifacts) {
		a.ScenePromptsRaw = raw
	})); err != nil {
		return nil, newStageFailure(ctx, stage, fmt.Errorf("record scene response: %w", err))
	}

	scenes, err := parseScenes(raw)
	if err != nil {
		return nil, newStageFailure(ctx, stage, err)
	}

	if err := o.advance(ctx, spec.JobID, stage, logger, func(a *model.Artifacts) {
		a.ScenePrompts = scenes
	}); err != nil {
		return nil, err
	}
	return scenes, nil
}

// renderImages resolves every scene's participant before generating
// anything, so one unknown id fails the batch without any image calls.
func (o *Orchestrator) renderImages(ctx context.Context, spec model.JobSpec, scenes []model.ScenePrompt) ([]string, error) {
	allowed := make(map[string]struct{}, len(spec.ParticipantIDs))
	for _, id := range spec.ParticipantIDs {
		allowed[id] = struct{}{}
	}

	modelRefs := make([]string, len(scenes))
	for i, scene := range scenes {
		if _, ok := allowed[scene.CharacterID]; !ok {
			return nil, fmt.Errorf("%w %q in scene %d: not among the job's participants", ErrUnknownParticipant, scene.CharacterID, i)
		}
		p, ok := o.participants[scene.CharacterID]
		if !ok || p.ModelRef == "" {
			return nil, fmt.Errorf("%w %q in scene %d: no image model configured", ErrUnknownParticipant, scene.CharacterID, i)
		}
		modelRefs[i] = p.ModelRef
	}

	return o.perScene(ctx, len(scenes), func(ctx context.Context, i int) (string, error) {
		ref, err := o.collab.Images.Generate(ctx, ImageRequest{
			JobID:    spec.JobID,
			Index:    i,
			Prompt:   scenes[i].ImagePrompt,
			ModelRef: modelRefs[i],
			Params:   o.opts.Image,
		})
		if err != nil {
			return "", fmt.Errorf("image for scene %d: %w", i, err)
		}
		return ref, nil
	})
}

func (o *Orchestrator) synthesizeAudio(ctx context.Context, spec model.JobSpec, scenes []model.ScenePrompt) ([]string, error) {
	return o.perScene(ctx, len(scenes), func(ctx context.Context, i int) (string, error) {
		ref, err := o.collab.Audio.Synthesize(ctx, AudioRequest{
			JobID:   spec.JobID,
			Index:   i,
			Scene:   scenes[i],
			VoiceID: o.participants[scenes[i].CharacterID].VoiceID,
		})
		if err != nil {
			return "", fmt.Errorf("audio for scene %d: %w", i, err)
		}
		return ref, nil
	})
}

func (o *Orchestrator) renderVideos(ctx context.Context, spec model.JobSpec, images []string, logger zerolog.Logger) ([]string, error) {
	stage := model.StageGeneratingVideos
	if err := o.enter(ctx, spec.JobID, stage, logger); err != nil {
		return nil, err
	}

	videos, err := o.perScene(ctx, len(images), func(ctx context.Context, i int) (string, error) {
		ref, err := o.collab.Videos.Render(ctx, VideoRequest{JobID: spec.JobID, Index: i, ImageRef: images[i]})
		if err != nil {
			return "", fmt.Errorf("video for scene %d: %w", i, err)
		}
		return ref, nil
	})
	if err != nil {
		return nil, newStageFailure(ctx, stage, err)
	}

	if err := o.advance(ctx, spec.JobID, stage, logger, func(a *model.Artifacts) {
		a.VideoPaths = videos
	}); err != nil {
		return nil, err
	}
	return videos, nil
}

// splice joins the clips and audio; the completion write carries the final
// path, 100 and completed together.
func (o *Orchestrator) splice(ctx context.Context, spec model.JobSpec, videos, audio []string, logger zerolog.Logger) (string, error) {
	stage := model.StageSplicingVideo
	if err := o.enter(ctx, spec.JobID, stage, logger); err != nil {
		return "", err
	}

	if len(videos) != len(audio) {
		return "", newStageFailure(ctx, stage, fmt.Errorf("%w: %d videos, %d audio tracks", ErrLengthMismatch, len(videos), len(audio)))
	}

	var final string
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		final, err = o.collab.Splicer.Splice(ctx, SpliceRequest{JobID: spec.JobID, VideoRefs: videos, AudioRefs: audio})
		return err
	})
	if err != nil {
		return "", newStageFailure(ctx, stage, fmt.Errorf("splice: %w", err))
	}
	if final == "" {
		return "", newStageFailure(ctx, stage, fmt.Errorf("%w: splicer returned no output", ErrService))
	}

	rec, err := o.store.Update(ctx, spec.JobID, progress.Complete(final, o.now()))
	if err != nil {
		return "", newStageFailure(ctx, stage, fmt.Errorf("record completion: %w", err))
	}
	logger.Info().Str("event_type", "stage_complete").Str("stage", string(stage)).Int("progress", rec.Progress).Msg("stage completed")
	o.observer.OnEvent(Event{Type: EventStageCompleted, JobID: spec.JobID, Stage: stage, Record: rec})
	o.observer.OnEvent(Event{Type: EventJobCompleted, JobID: spec.JobID, Stage: model.StageCompleted, Record: rec})
	return final, nil
}

// perScene runs fn for every index with bounded parallelism. Results keep
// input order whatever order the calls finish in.
func (o *Orchestrator) perScene(ctx context.Context, n int, fn func(ctx context.Context, i int) (string, error)) ([]string, error) {
	out := make([]string, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.SceneConcurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return o.call(gctx, func(ctx context.Context) error {
				ref, err := fn(ctx, i)
				if err != nil {
					return err
				}
				out[i] = ref
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
