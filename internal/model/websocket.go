package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a stage or progress change
type WSProgressMessage struct {
	Type     string `json:"type"`
	VideoID  string `json:"videoId"`
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type    string          `json:"type"`
	VideoID string          `json:"videoId"`
	Result  *ProgressRecord `json:"result"`
}

// WSErrorMessage represents a pipeline failure
type WSErrorMessage struct {
	Type    string  `json:"type"`
	VideoID string  `json:"videoId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}
