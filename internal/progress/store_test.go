package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/makeasinger/videogen/internal/model"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(context.Background(), "missing", func(*model.ProgressRecord) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InitializeFresh", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec, err := s.Initialize(ctx, "job-1", false)
		if err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if rec.Stage != model.StageInitialized || rec.Progress != 0 {
			t.Fatalf("unexpected fresh record: %+v", rec)
		}
		if rec.SchemaVersion != model.RecordSchemaVersion {
			t.Errorf("expected schema version %d, got %d", model.RecordSchemaVersion, rec.SchemaVersion)
		}
		got, err := s.Read(ctx, "job-1")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.JobID != "job-1" || got.Stage != model.StageInitialized {
			t.Fatalf("unexpected read back: %+v", got)
		}
	})

	t.Run("InitializeTwice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if _, err := s.Initialize(ctx, "job-1", false); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("RestartReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if _, err := s.Update(ctx, "job-1", Fail(model.ErrorKindService, "boom", time.Now())); err != nil {
			t.Fatalf("fail: %v", err)
		}
		rec, err := s.Initialize(ctx, "job-1", true)
		if err != nil {
			t.Fatalf("restart: %v", err)
		}
		if rec.Stage != model.StageInitialized || rec.Error != "" {
			t.Fatalf("expected fresh record after restart, got %+v", rec)
		}
	})

	t.Run("UpdateAppliesMutation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		written, err := s.Update(ctx, "job-1", Enter(model.StageGeneratingStory, 10, time.Now()))
		if err != nil {
			t.Fatalf("enter: %v", err)
		}
		if written.Stage != model.StageGeneratingStory || written.Progress != 10 {
			t.Fatalf("unexpected written snapshot: %+v", written)
		}
		if written.StartedAt == nil {
			t.Error("expected started_at to be set on first stage entry")
		}

		_, err = s.Update(ctx, "job-1", Advance(model.StageGeneratingStory, 15, func(a *model.Artifacts) {
			a.StoryDescription = "a story"
		}))
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		got, err := s.Read(ctx, "job-1")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Artifacts.StoryDescription != "a story" || got.Progress != 15 {
			t.Fatalf("unexpected record: %+v", got)
		}
		if len(got.StepsCompleted) != 1 || got.StepsCompleted[0] != model.StageGeneratingStory {
			t.Fatalf("unexpected steps: %v", got.StepsCompleted)
		}
	})

	t.Run("MutationErrorAbortsWrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		sentinel := errors.New("nope")
		_, err := s.Update(ctx, "job-1", func(rec *model.ProgressRecord) error {
			rec.Progress = 99
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected mutation error, got %v", err)
		}
		got, _ := s.Read(ctx, "job-1")
		if got.Progress != 0 {
			t.Fatalf("aborted mutation leaked into store: %+v", got)
		}
	})

	t.Run("SnapshotsAreCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		if _, err := s.Update(ctx, "job-1", Advance(model.StageGeneratingImages, 45, func(a *model.Artifacts) {
			a.ImagePaths = []string{"a.png", "b.png"}
		})); err != nil {
			t.Fatalf("advance: %v", err)
		}
		snap, _ := s.Read(ctx, "job-1")
		snap.Artifacts.ImagePaths[0] = "mutated"
		again, _ := s.Read(ctx, "job-1")
		if again.Artifacts.ImagePaths[0] != "a.png" {
			t.Fatalf("reader mutation reached the store: %v", again.Artifacts.ImagePaths)
		}
	})

	t.Run("ConcurrentUpdatesSerialized", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Initialize(ctx, "job-1", false); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		const writers = 25
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "job-1", func(rec *model.ProgressRecord) error {
					rec.Progress++
					return nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
				}
			}()
		}
		wg.Wait()
		got, _ := s.Read(ctx, "job-1")
		if got.Progress != writers {
			t.Fatalf("expected %d serialized increments, got %d", writers, got.Progress)
		}
	})

	t.Run("JobsAreIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"job-a", "job-b"} {
			if _, err := s.Initialize(ctx, id, false); err != nil {
				t.Fatalf("initialize %s: %v", id, err)
			}
		}
		if _, err := s.Update(ctx, "job-a", Advance(model.StageGeneratingStory, 15, func(a *model.Artifacts) {
			a.StoryDescription = "only a"
		})); err != nil {
			t.Fatalf("advance: %v", err)
		}
		b, _ := s.Read(ctx, "job-b")
		if b.Artifacts.StoryDescription != "" || b.Progress != 0 {
			t.Fatalf("job-b picked up job-a state: %+v", b)
		}
	})
}

func TestAdvanceNeverMovesBackward(t *testing.T) {
	rec := model.NewProgressRecord("job-1", time.Now())
	rec.Stage = model.StageGeneratingAudio
	rec.Progress = 60

	if err := Advance(model.StageGeneratingImages, 45, func(a *model.Artifacts) {
		a.ImagePaths = []string{"x.png"}
	})(&rec); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if rec.Stage != model.StageGeneratingAudio || rec.Progress != 60 {
		t.Fatalf("expected stage/progress to stay at generating_audio/60, got %s/%d", rec.Stage, rec.Progress)
	}
	if len(rec.Artifacts.ImagePaths) != 1 {
		t.Fatalf("expected image artifacts merged, got %v", rec.Artifacts.ImagePaths)
	}
}

func TestMutationsRefuseTerminalRecords(t *testing.T) {
	rec := model.NewProgressRecord("job-1", time.Now())
	if err := Fail(model.ErrorKindValidation, "bad", time.Now())(&rec); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if rec.Progress != 0 || rec.Error != "bad" || rec.ErrorKind != model.ErrorKindValidation {
		t.Fatalf("unexpected failed record: %+v", rec)
	}
	if err := Advance(model.StageGeneratingVideos, 85, nil)(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal from Advance, got %v", err)
	}
	if err := Enter(model.StageGeneratingVideos, 80, time.Now())(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal from Enter, got %v", err)
	}
	if err := Complete("final.mp4", time.Now())(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal from Complete, got %v", err)
	}
	if err := Fail(model.ErrorKindService, "again", time.Now())(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal from Fail on failed record, got %v", err)
	}
	if rec.Error != "bad" {
		t.Fatalf("failed record was rewritten: %q", rec.Error)
	}
}

func TestAnnotateKeepsStage(t *testing.T) {
	rec := model.NewProgressRecord("job-1", time.Now())
	if err := Enter(model.StageGeneratingScenes, 20, time.Now())(&rec); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := Annotate(func(a *model.Artifacts) { a.ScenePromptsRaw = "not json" })(&rec); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if rec.Stage != model.StageGeneratingScenes || rec.Progress != 20 || len(rec.StepsCompleted) != 0 {
		t.Fatalf("annotate moved the record: %+v", rec)
	}
	if rec.Artifacts.ScenePromptsRaw != "not json" {
		t.Fatalf("raw response not stored: %q", rec.Artifacts.ScenePromptsRaw)
	}

	if err := Fail(model.ErrorKindValidation, "bad", time.Now())(&rec); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := Annotate(func(a *model.Artifacts) { a.ScenePromptsRaw = "late" })(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if rec.Artifacts.ScenePromptsRaw != "not json" {
		t.Fatalf("terminal record annotated: %q", rec.Artifacts.ScenePromptsRaw)
	}
}

func TestFailLeavesCompletedRecord(t *testing.T) {
	rec := model.NewProgressRecord("job-1", time.Now())
	if err := Complete("final.mp4", time.Now())(&rec); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := Fail(model.ErrorKindService, "late failure", time.Now())(&rec); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if rec.Stage != model.StageCompleted || rec.Progress != 100 || rec.Error != "" {
		t.Fatalf("completed record was rewritten: %+v", rec)
	}
}
