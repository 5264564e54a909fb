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

// WSProgressMessage represents a conversion progress update
type WSProgressMessage struct {
	Type     string    `json:"type"`
	SlideID  string    `json:"slideId"`
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
}

// WSCompleteMessage announces a finished conversion
type WSCompleteMessage struct {
	Type    string `json:"type"`
	SlideID string `json:"slideId"`
	DziURL  string `json:"dziUrl"`
}

// WSErrorMessage represents a conversion failure
type WSErrorMessage struct {
	Type    string  `json:"type"`
	SlideID string  `json:"slideId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
