package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/pipeline"
)

func mediaConfig(url string) *config.MediaServiceConfig {
	return &config.MediaServiceConfig{
		BaseURL:      url,
		APIKey:       "key",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
}

func TestImageClientSynchronousResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req imageGenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ModelRef != "models/a" || req.Width != 1024 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(taskResponse{Status: "completed", URL: "https://cdn/img.png"})
	}))
	defer srv.Close()

	c := NewImageClient(mediaConfig(srv.URL), zerolog.Nop())
	url, err := c.Generate(context.Background(), pipeline.ImageRequest{
		JobID: "job-1", Prompt: "p", ModelRef: "models/a", Params: pipeline.ImageParams{Width: 1024},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://cdn/img.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestSpeechClientPollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/speech":
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t1", Status: "queued"})
		case "/v1/tasks/t1":
			if polls.Add(1) < 3 {
				_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t1", Status: "running"})
				return
			}
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t1", Status: "success", URL: "https://cdn/a.mp3"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSpeechClient(mediaConfig(srv.URL), zerolog.Nop())
	url, err := c.Synthesize(context.Background(), pipeline.AudioRequest{
		JobID: "job-1", Scene: model.ScenePrompt{CharacterID: "A", Dialogue: "hello"}, VoiceID: "v",
	})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if url != "https://cdn/a.mp3" || polls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d polls", url, polls.Load())
	}
}

func TestVideoClientTaskFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t9", Status: "failed", Error: "codec"})
	}))
	defer srv.Close()

	c := NewVideoClient(mediaConfig(srv.URL), zerolog.Nop())
	_, err := c.Render(context.Background(), pipeline.VideoRequest{JobID: "job-1", ImageRef: "img"})
	if !errors.Is(err, pipeline.ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
}

func TestImageClientUnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown model"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewImageClient(mediaConfig(srv.URL), zerolog.Nop())
	_, err := c.Generate(context.Background(), pipeline.ImageRequest{ModelRef: "models/zzz"})
	if !errors.Is(err, pipeline.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if pipeline.KindOf(err) != model.ErrorKindValidation {
		t.Fatalf("expected validation kind, got %s", pipeline.KindOf(err))
	}
}

func TestMediaClientHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "slow", Status: "running"})
	}))
	defer srv.Close()

	c := NewVideoClient(mediaConfig(srv.URL), zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Splice(ctx, pipeline.SpliceRequest{JobID: "job-1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
