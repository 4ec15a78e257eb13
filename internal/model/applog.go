package model

import (
	"time"

	"github.com/google/uuid"
)

// App-log levels. The sidecar records these as plain strings.
const (
	AppLevelInformation = "Information"
	AppLevelWarning     = "Warning"
	AppLevelError       = "Error"
)

// AppLogEntry records the outcome of one request served by this process.
type AppLogEntry struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Level         string    `json:"level"`
	Category      string    `json:"category"`
	Message       string    `json:"message"`
	Exception     string    `json:"exception,omitempty"`
	RequestMethod string    `json:"requestMethod,omitempty"`
	RequestPath   string    `json:"requestPath,omitempty"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	DurationMs    *float64  `json:"durationMs,omitempty"`
}
