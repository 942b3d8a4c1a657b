package model

import "time"

// RecordSchemaVersion is stamped on every persisted progress record.
const RecordSchemaVersion = 1

// ProgressRecord is the persisted, queryable state of one video job.
type ProgressRecord struct {
	SchemaVersion  int        `json:"schema_version"`
	JobID          string     `json:"job_id"`
	Stage          Stage      `json:"stage"`
	Progress       int        `json:"progress"`
	Error          string     `json:"error,omitempty"`
	ErrorKind      ErrorKind  `json:"error_kind,omitempty"`
	StepsCompleted []Stage    `json:"steps_completed"`
	Artifacts      Artifacts  `json:"artifacts"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Artifacts holds one slot per stage output. A nil slice or empty string
// means the producing stage has not completed in the current run.
type Artifacts struct {
	StoryDescription string        `json:"story_description,omitempty"`
	ScenePrompts     []ScenePrompt `json:"scene_prompts"`
	ImagePaths       []string      `json:"image_paths"`
	AudioPaths       []string      `json:"audio_paths"`
	VideoPaths       []string      `json:"video_paths"`
	FinalVideoPath   string        `json:"final_video_path,omitempty"`

	// ScenePromptsRaw is the scene planner's response as received, kept
	// even when it could not be parsed.
	ScenePromptsRaw string `json:"scene_prompts_raw,omitempty"`
}

// NewProgressRecord returns a fresh record in the initialized state.
func NewProgressRecord(jobID string, now time.Time) ProgressRecord {
	return ProgressRecord{
		SchemaVersion:  RecordSchemaVersion,
		JobID:          jobID,
		Stage:          StageInitialized,
		Progress:       0,
		StepsCompleted: []Stage{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy so callers never share slices with the store.
func (r ProgressRecord) Clone() ProgressRecord {
	out := r
	out.StepsCompleted = cloneSlice(r.StepsCompleted)
	out.Artifacts = r.Artifacts.Clone()
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Clone returns a deep copy of the artifact slots.
func (a Artifacts) Clone() Artifacts {
	out := a
	out.ScenePrompts = cloneSlice(a.ScenePrompts)
	out.ImagePaths = cloneSlice(a.ImagePaths)
	out.AudioPaths = cloneSlice(a.AudioPaths)
	out.VideoPaths = cloneSlice(a.VideoPaths)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
