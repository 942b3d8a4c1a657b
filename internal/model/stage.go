package model

// Stage is one state of the video pipeline state machine.
type Stage string

const (
	StageInitialized      Stage = "initialized"
	StageGeneratingStory  Stage = "generating_story"
	StageGeneratingScenes Stage = "generating_scenes"
	StageGeneratingImages Stage = "generating_images"
	StageGeneratingAudio  Stage = "generating_audio"
	StageGeneratingVideos Stage = "generating_videos"
	StageSplicingVideo    Stage = "splicing_video"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

// Terminal reports whether no further transitions follow this stage.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// ErrorKind classifies a failure stored on a progress record.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindService       ErrorKind = "service"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindAlreadyExists ErrorKind = "already_exists"
)
