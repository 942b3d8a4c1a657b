package model

import "time"

// CreateVideoRequest represents the request to create and start a video job
type CreateVideoRequest struct {
	VideoID      string   `json:"videoId" validate:"omitempty,max=128,excludesall=/?#%"`
	CharacterIDs []string `json:"characterIds" validate:"required,min=1,max=16,dive,required,max=64"`
	Description  string   `json:"description" validate:"required,max=4000"`
}

// CreateVideoResponse is returned once a video job has been accepted
type CreateVideoResponse struct {
	VideoID      string    `json:"videoId"`
	CharacterIDs []string  `json:"characterIds"`
	Description  string    `json:"description"`
	Status       Stage     `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// VideoStatusResponse represents the polled status of a video job
type VideoStatusResponse struct {
	VideoID     string    `json:"videoId"`
	VideoStatus Stage     `json:"videoStatus"`
	Progress    int       `json:"progress"`
	Error       *string   `json:"error"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
}

// VideoActionResponse represents the response to start/cancel requests
type VideoActionResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"videoId"`
	Status  Stage  `json:"status"`
}

// NewVideoStatusResponse builds the polling view of a record.
func NewVideoStatusResponse(rec ProgressRecord) *VideoStatusResponse {
	resp := &VideoStatusResponse{
		VideoID:     rec.JobID,
		VideoStatus: rec.Stage,
		Progress:    rec.Progress,
		ErrorKind:   rec.ErrorKind,
	}
	if rec.Error != "" {
		msg := rec.Error
		resp.Error = &msg
	}
	return resp
}
