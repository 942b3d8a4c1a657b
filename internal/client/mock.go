package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/pipeline"
)

// MockMedia stands in for the image, speech and video services during
// development. It waits for a fixed delay and returns the paths the real
// services would write under output/<job>/. With storage configured the
// paths become public URLs and the splicer uploads a manifest of the cut.
type MockMedia struct {
	delay   time.Duration
	storage StorageClient
	logger  zerolog.Logger
}

func NewMockMedia(delay time.Duration, storage StorageClient, logger zerolog.Logger) *MockMedia {
	return &MockMedia{
		delay:   delay,
		storage: storage,
		logger:  logging.Component(logger, "mock_media"),
	}
}

func (m *MockMedia) Generate(ctx context.Context, req pipeline.ImageRequest) (string, error) {
	return m.produce(ctx, fmt.Sprintf("output/%s/images/scene_%d.png", req.JobID, req.Index))
}

func (m *MockMedia) Synthesize(ctx context.Context, req pipeline.AudioRequest) (string, error) {
	return m.produce(ctx, fmt.Sprintf("output/%s/audio/scene_%d.mp3", req.JobID, req.Index))
}

func (m *MockMedia) Render(ctx context.Context, req pipeline.VideoRequest) (string, error) {
	return m.produce(ctx, fmt.Sprintf("output/%s/videos/scene_%d.mp4", req.JobID, req.Index))
}

type spliceManifest struct {
	JobID     string    `json:"job_id"`
	VideoRefs []string  `json:"video_refs"`
	AudioRefs []string  `json:"audio_refs"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *MockMedia) Splice(ctx context.Context, req pipeline.SpliceRequest) (string, error) {
	final, err := m.produce(ctx, fmt.Sprintf("output/%s/final/final_video.mp4", req.JobID))
	if err != nil {
		return "", err
	}
	if m.storage == nil {
		return final, nil
	}

	manifest, err := json.Marshal(spliceManifest{
		JobID:     req.JobID,
		VideoRefs: req.VideoRefs,
		AudioRefs: req.AudioRefs,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	key := fmt.Sprintf("output/%s/final/manifest.json", req.JobID)
	url, err := m.storage.Upload(ctx, key, bytes.NewReader(manifest), "application/json")
	if err != nil {
		return "", fmt.Errorf("%w: %w", pipeline.ErrService, err)
	}
	m.logger.Info().Str("job_id", req.JobID).Str("manifest_url", url).Msg("uploaded splice manifest")
	return final, nil
}

func (m *MockMedia) produce(ctx context.Context, key string) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.storage != nil {
		return m.storage.GetPublicURL(key), nil
	}
	return key, nil
}

var quotedID = regexp.MustCompile(`"([^"]+)"`)

// MockText answers story and scene prompts without a language model. Scene
// lists alternate between the characters named in the prompt.
type MockText struct {
	delay time.Duration
}

func NewMockText(delay time.Duration) *MockText {
	return &MockText{delay: delay}
}

func (m *MockText) Generate(ctx context.Context, prompt string, opts pipeline.TextOptions) (string, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if !opts.JSONResponse {
		return "A chaotic afternoon where everyone insists they are the main character.", nil
	}

	var ids []string
	if idx := strings.Index(prompt, "Available characters:"); idx >= 0 {
		for _, match := range quotedID.FindAllStringSubmatch(prompt[idx:], -1) {
			ids = append(ids, match[1])
		}
	}
	if len(ids) == 0 {
		return `{"data":[]}`, nil
	}

	type scene struct {
		ImagePrompt string `json:"image_prompt"`
		CharacterID string `json:"character_id"`
		Dialogue    string `json:"dialogue"`
	}
	scenes := make([]scene, 0, 7)
	for i := 0; i < 7; i++ {
		id := ids[i%len(ids)]
		scenes = append(scenes, scene{
			ImagePrompt: fmt.Sprintf("%s in a dramatic close-up, scene %d", id, i+1),
			CharacterID: id,
			Dialogue:    fmt.Sprintf("This is scene %d and it is all about me.", i+1),
		})
	}
	out, err := json.Marshal(map[string]interface{}{"data": scenes})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
