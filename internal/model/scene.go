package model

// ScenePrompt is one planned scene: what to draw, who appears, and what they say.
type ScenePrompt struct {
	ImagePrompt string `json:"image_prompt"`
	CharacterID string `json:"character_id"`
	Dialogue    string `json:"dialogue"`
}

// StoryDescription is the narrative produced from the brief.
type StoryDescription struct {
	Description string `json:"description"`
}

// Participant maps a character identifier to the generation models used for it.
type Participant struct {
	ModelRef string `json:"model_ref" mapstructure:"model_ref"`
	VoiceID  string `json:"voice_id" mapstructure:"voice_id"`
}

// JobSpec carries the immutable inputs of a video job.
type JobSpec struct {
	JobID          string   `json:"jobId"`
	ParticipantIDs []string `json:"participantIds"`
	Brief          string   `json:"brief"`
}
