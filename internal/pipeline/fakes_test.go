package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/progress"
)

type fakeText struct {
	story  string
	scenes string
	err    error
	block  bool
	calls  atomic.Int32
}

func (f *fakeText) Generate(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if opts.System != "" {
		return f.scenes, nil
	}
	return f.story, nil
}

type fakeImages struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req ImageRequest) (string, error)
}

func (f *fakeImages) Generate(ctx context.Context, req ImageRequest) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return fmt.Sprintf("output/%s/images/scene_%d.png", req.JobID, req.Index), nil
}

type fakeAudio struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req AudioRequest) (string, error)
}

func (f *fakeAudio) Synthesize(ctx context.Context, req AudioRequest) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return fmt.Sprintf("output/%s/audio/scene_%d.mp3", req.JobID, req.Index), nil
}

type fakeVideos struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req VideoRequest) (string, error)
}

func (f *fakeVideos) Render(ctx context.Context, req VideoRequest) (string, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return fmt.Sprintf("output/%s/videos/scene_%d.mp4", req.JobID, req.Index), nil
}

type fakeSplicer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSplicer) Splice(ctx context.Context, req SpliceRequest) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("output/%s/final/final_video.mp4", req.JobID), nil
}

type fakes struct {
	text    *fakeText
	images  *fakeImages
	audio   *fakeAudio
	videos  *fakeVideos
	splicer *fakeSplicer
}

func newFakes(sceneIDs ...string) *fakes {
	return &fakes{
		text:    &fakeText{story: "Two rivals burn dinner.", scenes: scenesJSON(sceneIDs...)},
		images:  &fakeImages{},
		audio:   &fakeAudio{},
		videos:  &fakeVideos{},
		splicer: &fakeSplicer{},
	}
}

func (f *fakes) collaborators() Collaborators {
	return Collaborators{Text: f.text, Images: f.images, Audio: f.audio, Videos: f.videos, Splicer: f.splicer}
}

// scenesJSON renders one scene per character id in the {"data":[...]} shape.
func scenesJSON(ids ...string) string {
	type item struct {
		ImagePrompt string `json:"image_prompt"`
		CharacterID string `json:"character_id"`
		Dialogue    string `json:"dialogue"`
	}
	items := make([]item, len(ids))
	for i, id := range ids {
		items[i] = item{
			ImagePrompt: fmt.Sprintf("kitchen scene %d", i),
			CharacterID: id,
			Dialogue:    fmt.Sprintf("line %d", i),
		}
	}
	data, _ := json.Marshal(map[string]any{"data": items})
	return string(data)
}

// eventRecorder keeps every event in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

var testParticipants = map[string]model.Participant{
	"A": {ModelRef: "models/a", VoiceID: "voice-a"},
	"B": {ModelRef: "models/b", VoiceID: "voice-b"},
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newTestOrchestrator(t *testing.T, f *fakes, opts Options, obs ...Observer) (*Orchestrator, *progress.MemoryStore) {
	t.Helper()
	store := progress.NewMemoryStore()
	if opts.SceneConcurrency == 0 {
		opts.SceneConcurrency = 4
	}
	if opts.StageTimeout == 0 {
		opts.StageTimeout = 5 * time.Second
	}
	o, err := NewOrchestrator(store, f.collaborators(), testParticipants, opts, discardLogger(), obs...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, store
}

func runJob(t *testing.T, ctx context.Context, o *Orchestrator, store progress.Store, spec model.JobSpec) (string, error) {
	t.Helper()
	if _, err := store.Initialize(context.Background(), spec.JobID, false); err != nil {
		t.Fatalf("initialize %s: %v", spec.JobID, err)
	}
	return o.Run(ctx, spec)
}

func readRecord(t *testing.T, store progress.Store, jobID string) model.ProgressRecord {
	t.Helper()
	rec, err := store.Read(context.Background(), jobID)
	if err != nil {
		t.Fatalf("read %s: %v", jobID, err)
	}
	return rec
}
