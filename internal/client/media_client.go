package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
	"github.com/makeasinger/videogen/internal/pipeline"
)

// APIError is a non-2xx answer from a media service.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// taskResponse is the shape every media service answers with, both on
// submission and when polled. Synchronous services reply completed at once.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
}

// mediaClient submits generation tasks and polls them until they finish.
type mediaClient struct {
	service      string
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       zerolog.Logger
}

func newMediaClient(service string, cfg *config.MediaServiceConfig, logger zerolog.Logger) mediaClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return mediaClient{
		service: service,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: interval,
		pollTimeout:  timeout,
		logger:       logging.Component(logger, service),
	}
}

// IsConfigured returns true if the service URL is set
func (c *mediaClient) IsConfigured() bool {
	return c.baseURL != ""
}

// submit posts a task and waits for its output URL.
func (c *mediaClient) submit(ctx context.Context, endpoint string, body interface{}) (string, error) {
	var task taskResponse
	if err := c.post(ctx, endpoint, body, &task); err != nil {
		return "", err
	}
	return c.wait(ctx, &task)
}

func (c *mediaClient) wait(ctx context.Context, task *taskResponse) (string, error) {
	deadline := time.Now().Add(c.pollTimeout)
	attempt := 0

	for {
		switch strings.ToLower(task.Status) {
		case "completed", "success", "succeeded":
			if task.URL == "" {
				return "", fmt.Errorf("%w: %s task %s completed without output", pipeline.ErrService, c.service, task.TaskID)
			}
			return task.URL, nil
		case "failed", "error":
			return "", fmt.Errorf("%w: %s task %s failed: %s", pipeline.ErrService, c.service, task.TaskID, task.Error)
		}

		if task.TaskID == "" {
			return "", fmt.Errorf("%w: %s returned status %q without a task id", pipeline.ErrService, c.service, task.Status)
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: %s task %s timed out after %v", pipeline.ErrService, c.service, task.TaskID, c.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		attempt++
		var next taskResponse
		if err := c.get(ctx, "/v1/tasks/"+task.TaskID, &next); err != nil {
			return "", err
		}
		if next.TaskID == "" {
			next.TaskID = task.TaskID
		}
		c.logger.Debug().Str("task_id", next.TaskID).Int("attempt", attempt).Str("status", next.Status).Msg("polled task")
		*task = next
	}
}

func (c *mediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *mediaClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *mediaClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s request failed: %w", pipeline.ErrService, c.service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read %s response: %w", pipeline.ErrService, c.service, err)
	}

	c.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status", resp.StatusCode).Msg("media request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %w", pipeline.ErrService, &APIError{Service: c.service, StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s response: %w", pipeline.ErrService, c.service, err)
	}
	return nil
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ImageClient renders scene images through the image service.
type ImageClient struct {
	mediaClient
}

type imageGenerateRequest struct {
	JobID    string `json:"job_id"`
	Index    int    `json:"index"`
	Prompt   string `json:"prompt"`
	ModelRef string `json:"model_ref"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Steps    int    `json:"steps,omitempty"`
}

func NewImageClient(cfg *config.MediaServiceConfig, logger zerolog.Logger) *ImageClient {
	return &ImageClient{mediaClient: newMediaClient("image", cfg, logger)}
}

// Generate implements pipeline.ImageGenerator. A 404 or 422 from the
// service means it does not know the requested model.
func (c *ImageClient) Generate(ctx context.Context, req pipeline.ImageRequest) (string, error) {
	url, err := c.submit(ctx, "/v1/images", imageGenerateRequest{
		JobID:    req.JobID,
		Index:    req.Index,
		Prompt:   req.Prompt,
		ModelRef: req.ModelRef,
		Width:    req.Params.Width,
		Height:   req.Params.Height,
		Steps:    req.Params.Steps,
	})
	if err != nil {
		switch statusOf(err) {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return "", fmt.Errorf("%w %q: %w", pipeline.ErrUnknownModel, req.ModelRef, err)
		}
		return "", err
	}
	return url, nil
}

// SpeechClient voices scene dialogue through the speech service.
type SpeechClient struct {
	mediaClient
}

type speechRequest struct {
	JobID       string `json:"job_id"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	VoiceID     string `json:"voice_id,omitempty"`
	CharacterID string `json:"character_id"`
}

func NewSpeechClient(cfg *config.MediaServiceConfig, logger zerolog.Logger) *SpeechClient {
	return &SpeechClient{mediaClient: newMediaClient("speech", cfg, logger)}
}

// Synthesize implements pipeline.AudioSynthesizer.
func (c *SpeechClient) Synthesize(ctx context.Context, req pipeline.AudioRequest) (string, error) {
	return c.submit(ctx, "/v1/speech", speechRequest{
		JobID:       req.JobID,
		Index:       req.Index,
		Text:        req.Scene.Dialogue,
		VoiceID:     req.VoiceID,
		CharacterID: req.Scene.CharacterID,
	})
}

// VideoClient animates images and splices the final cut through the video service.
type VideoClient struct {
	mediaClient
}

type videoRenderRequest struct {
	JobID    string `json:"job_id"`
	Index    int    `json:"index"`
	ImageURL string `json:"image_url"`
}

type videoSpliceRequest struct {
	JobID     string   `json:"job_id"`
	VideoURLs []string `json:"video_urls"`
	AudioURLs []string `json:"audio_urls"`
}

func NewVideoClient(cfg *config.MediaServiceConfig, logger zerolog.Logger) *VideoClient {
	return &VideoClient{mediaClient: newMediaClient("video", cfg, logger)}
}

// Render implements pipeline.VideoRenderer.
func (c *VideoClient) Render(ctx context.Context, req pipeline.VideoRequest) (string, error) {
	return c.submit(ctx, "/v1/videos/render", videoRenderRequest{
		JobID:    req.JobID,
		Index:    req.Index,
		ImageURL: req.ImageRef,
	})
}

// Splice implements pipeline.VideoSplicer.
func (c *VideoClient) Splice(ctx context.Context, req pipeline.SpliceRequest) (string, error) {
	return c.submit(ctx, "/v1/videos/splice", videoSpliceRequest{
		JobID:     req.JobID,
		VideoURLs: req.VideoRefs,
		AudioURLs: req.AudioRefs,
	})
}
