package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/makeasinger/videogen/internal/model"
)

var (
	// ErrValidation marks out-of-contract input or generator output.
	ErrValidation = errors.New("validation failure")
	// ErrService marks a failed call into an external service.
	ErrService = errors.New("service failure")

	ErrUnknownParticipant = fmt.Errorf("%w: unknown participant", ErrValidation)
	ErrUnknownModel       = fmt.Errorf("%w: unknown model", ErrValidation)
	ErrMalformedScenes    = fmt.Errorf("%w: malformed scene list", ErrValidation)
	ErrLengthMismatch     = fmt.Errorf("%w: video and audio counts differ", ErrValidation)
)

func errMissingCollaborator(name string) error {
	return fmt.Errorf("pipeline: %s is required", name)
}

// StageFailure is returned by Run when a stage aborts the pipeline.
type StageFailure struct {
	Stage model.Stage
	Kind  model.ErrorKind
	Err   error
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Stage, f.Err)
}

func (f *StageFailure) Unwrap() error { return f.Err }

// ErrorKind reports the failure classification stored on the record.
func (f *StageFailure) ErrorKind() model.ErrorKind { return f.Kind }

// newStageFailure classifies err against the run context. A run context
// that expired or was canceled wins over whatever the collaborator reported.
func newStageFailure(runCtx context.Context, stage model.Stage, err error) *StageFailure {
	var existing *StageFailure
	if errors.As(err, &existing) {
		return existing
	}
	return &StageFailure{Stage: stage, Kind: classify(runCtx, err), Err: err}
}

func classify(runCtx context.Context, err error) model.ErrorKind {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case runCtx.Err() != nil:
		return model.ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return model.ErrorKindCanceled
	case errors.Is(err, ErrValidation):
		return model.ErrorKindValidation
	default:
		return model.ErrorKindService
	}
}

// KindOf extracts the failure kind from any error returned by Run.
func KindOf(err error) model.ErrorKind {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf.Kind
	}
	if errors.Is(err, ErrValidation) {
		return model.ErrorKindValidation
	}
	return model.ErrorKindService
}
