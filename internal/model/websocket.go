package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeTarget   = "target"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries a pipeline progress snapshot for one playlist
type WSProgressMessage struct {
	Type       string            `json:"type"`
	JobID      string            `json:"jobId"`
	PlaylistID string            `json:"playlistId"`
	Progress   *PipelineProgress `json:"progress"`
}

// WSTargetMessage reports a playlist reaching a terminal state within a job
type WSTargetMessage struct {
	Type         string           `json:"type"`
	JobID        string           `json:"jobId"`
	PlaylistID   string           `json:"playlistId"`
	GenerationID string           `json:"generationId"`
	Status       GenerationStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
