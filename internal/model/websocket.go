package model

// WebSocket message types
const (
	WSMessageTypeLog      = "log"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSLogMessage carries one analysis progress log line
type WSLogMessage struct {
	Type     string       `json:"type"`
	ReportID string       `json:"reportId"`
	Status   ReportStatus `json:"status"`
	Message  string       `json:"message"`
}

// WSCompleteMessage announces a finished analysis with the updated report
type WSCompleteMessage struct {
	Type     string      `json:"type"`
	ReportID string      `json:"reportId"`
	Report   interface{} `json:"report"`
}

// WSErrorMessage announces a failed analysis
type WSErrorMessage struct {
	Type     string  `json:"type"`
	ReportID string  `json:"reportId"`
	Error    WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
