package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/pipeline"
	"github.com/makeasinger/videogen/internal/progress"
)

var participants = map[string]model.Participant{
	"char1": {ModelRef: "models/char1", VoiceID: "voice-1"},
	"char2": {ModelRef: "models/char2", VoiceID: "voice-2"},
}

func newTestService(t *testing.T, mediaDelay time.Duration) (*JobService, progress.Store) {
	t.Helper()
	store := progress.NewMemoryStore()
	logger := zerolog.Nop()
	media := client.NewMockMedia(mediaDelay, nil, logger)
	orch, err := pipeline.NewOrchestrator(store, pipeline.Collaborators{
		Text:    client.NewMockText(0),
		Images:  media,
		Audio:   media,
		Videos:  media,
		Splicer: media,
	}, participants, pipeline.Options{StageTimeout: 5 * time.Second, SceneConcurrency: 4}, logger)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	dispatcher := NewInProcessDispatcher(orch, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Shutdown(ctx)
	})
	return NewJobService(store, NewRegistry(), dispatcher, logger), store
}

func spec(id string) model.JobSpec {
	return model.JobSpec{JobID: id, ParticipantIDs: []string{"char1", "char2"}, Brief: "two rivals cook dinner"}
}

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", job.ID())
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	if _, err := svc.Create(ctx, spec("video-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, spec("video-1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateRejectsExistingStoreRecord(t *testing.T) {
	svc, store := newTestService(t, 0)
	ctx := context.Background()
	if _, err := store.Initialize(ctx, "video-1", false); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.Create(ctx, spec("video-1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := svc.Registry().Lookup("video-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed create must not stay registered, got %v", err)
	}
}

func TestCreateValidatesSpec(t *testing.T) {
	svc, _ := newTestService(t, 0)
	cases := map[string]model.JobSpec{
		"no participants": {JobID: "a", Brief: "x"},
		"empty brief":     {JobID: "b", ParticipantIDs: []string{"char1"}},
		"blank id":        {JobID: "c", ParticipantIDs: []string{" "}, Brief: "x"},
		"slash in id":     {JobID: "d/e", ParticipantIDs: []string{"char1"}, Brief: "x"},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), s)
			if !errors.Is(err, ErrInvalidJob) || !errors.Is(err, pipeline.ErrValidation) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestCreateGeneratesID(t *testing.T) {
	svc, _ := newTestService(t, 0)
	s := spec("")
	job, err := svc.Create(context.Background(), s)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID() == "" {
		t.Fatal("expected generated job id")
	}
}

func TestGetProgressUnknownJob(t *testing.T) {
	svc, _ := newTestService(t, 0)
	if _, err := svc.GetProgress(context.Background(), "never-created"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartUnknownJob(t *testing.T) {
	svc, _ := newTestService(t, 0)
	if err := svc.Start(context.Background(), "never-created"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartRunsToCompletion(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	job, err := svc.CreateAndStart(ctx, spec("video-1"))
	if err != nil {
		t.Fatalf("create and start: %v", err)
	}
	waitDone(t, job)

	rec, err := svc.GetProgress(ctx, "video-1")
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if rec.Stage != model.StageCompleted || rec.Progress != 100 {
		t.Fatalf("expected completed/100, got %s/%d (%s)", rec.Stage, rec.Progress, rec.Error)
	}
	if rec.Artifacts.FinalVideoPath != "output/video-1/final/final_video.mp4" {
		t.Fatalf("unexpected final path %q", rec.Artifacts.FinalVideoPath)
	}
	if len(rec.Artifacts.ImagePaths) != 7 || len(rec.Artifacts.AudioPaths) != 7 {
		t.Fatalf("expected 7 scenes worth of media, got %d/%d", len(rec.Artifacts.ImagePaths), len(rec.Artifacts.AudioPaths))
	}
	if job.Running() {
		t.Fatal("job still marked running after completion")
	}
}

func TestStartWhileRunning(t *testing.T) {
	svc, _ := newTestService(t, time.Second)
	ctx := context.Background()

	job, err := svc.CreateAndStart(ctx, spec("video-1"))
	if err != nil {
		t.Fatalf("create and start: %v", err)
	}
	if err := svc.Start(ctx, "video-1"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	if err := svc.Cancel(ctx, "video-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitDone(t, job)
}

func TestCancelRecordsCanceledFailure(t *testing.T) {
	svc, _ := newTestService(t, time.Second)
	ctx := context.Background()

	job, err := svc.CreateAndStart(ctx, spec("video-1"))
	if err != nil {
		t.Fatalf("create and start: %v", err)
	}
	if err := svc.Cancel(ctx, "video-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitDone(t, job)

	rec, _ := svc.GetProgress(ctx, "video-1")
	if rec.Stage != model.StageFailed || rec.ErrorKind != model.ErrorKindCanceled {
		t.Fatalf("expected failed/canceled, got %s/%s", rec.Stage, rec.ErrorKind)
	}
	if rec.Progress != 0 {
		t.Fatalf("expected progress reset to 0, got %d", rec.Progress)
	}
}

func TestCancelIdleJob(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()
	if _, err := svc.Create(ctx, spec("video-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Cancel(ctx, "video-1"); !errors.Is(err, ErrJobNotRunning) {
		t.Fatalf("expected ErrJobNotRunning, got %v", err)
	}
}

func TestRestartAfterFailure(t *testing.T) {
	store := progress.NewMemoryStore()
	var runs atomic.Int32
	runner := runnerFunc(func(ctx context.Context, s model.JobSpec) (string, error) {
		n := runs.Add(1)
		if n == 1 {
			_, err := store.Update(ctx, s.JobID, progress.Fail(model.ErrorKindService, "first run failed", time.Now()))
			return "", err
		}
		_, err := store.Update(ctx, s.JobID, progress.Complete("final.mp4", time.Now()))
		return "final.mp4", err
	})
	dispatcher := NewInProcessDispatcher(runner, zerolog.Nop())
	svc := NewJobService(store, NewRegistry(), dispatcher, zerolog.Nop())
	ctx := context.Background()

	job, err := svc.CreateAndStart(ctx, spec("video-1"))
	if err != nil {
		t.Fatalf("create and start: %v", err)
	}
	waitDone(t, job)
	rec, _ := svc.GetProgress(ctx, "video-1")
	if rec.Stage != model.StageFailed {
		t.Fatalf("expected first run to fail, got %s", rec.Stage)
	}

	if err := svc.Start(ctx, "video-1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitDone(t, job)
	rec, _ = svc.GetProgress(ctx, "video-1")
	if rec.Stage != model.StageCompleted || rec.Error != "" {
		t.Fatalf("expected clean completed record after restart, got %+v", rec)
	}
	if runs.Load() != 2 {
		t.Fatalf("expected two runs, got %d", runs.Load())
	}
}

type runnerFunc func(ctx context.Context, spec model.JobSpec) (string, error)

func (f runnerFunc) Run(ctx context.Context, spec model.JobSpec) (string, error) { return f(ctx, spec) }
