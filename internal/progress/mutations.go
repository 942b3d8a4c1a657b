package progress

import (
	"time"

	"github.com/makeasinger/videogen/internal/model"
)

// Enter moves the record into stage with its entry progress.
func Enter(stage model.Stage, progress int, now time.Time) Mutation {
	return func(rec *model.ProgressRecord) error {
		if rec.Stage.Terminal() {
			return ErrTerminal
		}
		rec.Stage = stage
		rec.Progress = progress
		if rec.StartedAt == nil {
			t := now
			rec.StartedAt = &t
		}
		return nil
	}
}

// Advance merges a completed stage's artifacts and records the stage as
// done. Stage and progress move together and only forward, so a sibling
// finishing behind the other never rolls the pair back.
func Advance(stage model.Stage, progress int, merge func(*model.Artifacts)) Mutation {
	return func(rec *model.ProgressRecord) error {
		if rec.Stage.Terminal() {
			return ErrTerminal
		}
		if merge != nil {
			merge(&rec.Artifacts)
		}
		rec.StepsCompleted = append(rec.StepsCompleted, stage)
		if progress >= rec.Progress {
			rec.Stage = stage
			rec.Progress = progress
		}
		return nil
	}
}

// Annotate merges artifacts without moving the stage or recording a step.
func Annotate(merge func(*model.Artifacts)) Mutation {
	return func(rec *model.ProgressRecord) error {
		if rec.Stage.Terminal() {
			return ErrTerminal
		}
		merge(&rec.Artifacts)
		return nil
	}
}

// Complete stores the final artifact and marks the job completed.
func Complete(finalPath string, now time.Time) Mutation {
	return func(rec *model.ProgressRecord) error {
		if rec.Stage.Terminal() {
			return ErrTerminal
		}
		rec.Artifacts.FinalVideoPath = finalPath
		rec.StepsCompleted = append(rec.StepsCompleted, model.StageSplicingVideo)
		rec.Stage = model.StageCompleted
		rec.Progress = 100
		rec.Error = ""
		rec.ErrorKind = ""
		t := now
		rec.CompletedAt = &t
		return nil
	}
}

// Fail marks the job failed. Progress resets to 0; artifacts of stages that
// completed before the failure stay in place. A terminal record is left as is.
func Fail(kind model.ErrorKind, message string, now time.Time) Mutation {
	return func(rec *model.ProgressRecord) error {
		if rec.Stage.Terminal() {
			return ErrTerminal
		}
		rec.Stage = model.StageFailed
		rec.Progress = 0
		rec.Error = message
		rec.ErrorKind = kind
		t := now
		rec.CompletedAt = &t
		return nil
	}
}
