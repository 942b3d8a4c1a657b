package pipeline

import (
	"context"

	"github.com/makeasinger/videogen/internal/model"
)

// TextOptions tunes a single text completion.
type TextOptions struct {
	System       string
	Temperature  float64
	MaxTokens    int
	JSONResponse bool
}

// TextGenerator produces one free-text completion per call.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts TextOptions) (string, error)
}

// ImageParams are passed through to the image model unchanged.
type ImageParams struct {
	Width  int
	Height int
	Steps  int
}

type ImageRequest struct {
	JobID    string
	Index    int
	Prompt   string
	ModelRef string
	Params   ImageParams
}

// ImageGenerator renders one scene image and returns a reference to it.
// Implementations return ErrUnknownModel when ModelRef is not known to them.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (string, error)
}

type AudioRequest struct {
	JobID   string
	Index   int
	Scene   model.ScenePrompt
	VoiceID string
}

// AudioSynthesizer voices one scene's dialogue.
type AudioSynthesizer interface {
	Synthesize(ctx context.Context, req AudioRequest) (string, error)
}

type VideoRequest struct {
	JobID    string
	Index    int
	ImageRef string
}

// VideoRenderer animates one image into a clip.
type VideoRenderer interface {
	Render(ctx context.Context, req VideoRequest) (string, error)
}

type SpliceRequest struct {
	JobID     string
	VideoRefs []string
	AudioRefs []string
}

// VideoSplicer joins ordered clips and audio into the final video.
type VideoSplicer interface {
	Splice(ctx context.Context, req SpliceRequest) (string, error)
}

// Collaborators bundles the external services a pipeline run calls.
type Collaborators struct {
	Text    TextGenerator
	Images  ImageGenerator
	Audio   AudioSynthesizer
	Videos  VideoRenderer
	Splicer VideoSplicer
}

func (c Collaborators) validate() error {
	switch {
	case c.Text == nil:
		return errMissingCollaborator("text generator")
	case c.Images == nil:
		return errMissingCollaborator("image generator")
	case c.Audio == nil:
		return errMissingCollaborator("audio synthesizer")
	case c.Videos == nil:
		return errMissingCollaborator("video renderer")
	case c.Splicer == nil:
		return errMissingCollaborator("video splicer")
	}
	return nil
}
