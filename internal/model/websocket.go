package model

// WebSocket message types
const (
	WSMessageTypeStage    = "stage"
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

// WSStageMessage reports a stage transition
type WSStageMessage struct {
	Type   string      `json:"type"`
	RunID  string      `json:"runId"`
	Stage  Stage       `json:"stage"`
	Label  string      `json:"label"`
	Status StageStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// WSProgressMessage reports upload progress of one file
type WSProgressMessage struct {
	Type     string `json:"type"`
	RunID    string `json:"runId"`
	FileName string `json:"fileName"`
	Percent  int    `json:"percent"`
}

// WSCompleteMessage represents run completion
type WSCompleteMessage struct {
	Type   string    `json:"type"`
	RunID  string    `json:"runId"`
	Result *Artifact `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	RunID string  `json:"runId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage,omitempty"`
}
