package model

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one ingested log record. Timestamp is assigned by the server
// when the entry is persisted; any client-supplied time is ignored.
type LogEntry struct {
	ID          uuid.UUID `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       Level     `json:"level"`
	AppName     string    `json:"appName"`
	Message     string    `json:"message"`
	Metadata    string    `json:"metadata,omitempty"`
	Environment string    `json:"environment"`
	Host        string    `json:"host,omitempty"`
	Source      string    `json:"source,omitempty"`

	ExceptionType       string `json:"exceptionType,omitempty"`
	ExceptionMessage    string `json:"exceptionMessage,omitempty"`
	ExceptionStackTrace string `json:"exceptionStackTrace,omitempty"`

	RequestMethod string   `json:"requestMethod,omitempty"`
	RequestPath   string   `json:"requestPath,omitempty"`
	StatusCode    *int     `json:"statusCode,omitempty"`
	DurationMs    *float64 `json:"durationMs,omitempty"`

	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`
	UserID  string `json:"userId,omitempty"`

	ProjectID   *uuid.UUID `json:"projectId,omitempty"`
	ProjectName string     `json:"projectName,omitempty"`
}

// LogPattern groups structurally similar messages. It is computed on query.
type LogPattern struct {
	Pattern       string    `json:"pattern"`
	Count         int64     `json:"count"`
	Level         Level     `json:"level"`
	AppName       string    `json:"appName"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
	SampleMessage string    `json:"sampleMessage"`
}

// TraceLogEntry is a LogEntry annotated with its offset from the first entry
// of the trace.
type TraceLogEntry struct {
	LogEntry
	OffsetMs float64 `json:"offsetMs"`
}

// TraceTimeline is every entry sharing a trace id, in timestamp order.
type TraceTimeline struct {
	TraceID         string          `json:"traceId"`
	Logs            []TraceLogEntry `json:"logs"`
	TotalDurationMs float64         `json:"totalDurationMs"`
	Services        []string        `json:"services"`
	HasErrors       bool            `json:"hasErrors"`
}

// AppStats is the per-app slice of LogStats.
type AppStats struct {
	AppName    string `json:"appName" db:"app_name"`
	LogCount   int64  `json:"logCount" db:"log_count"`
	ErrorCount int64  `json:"errorCount" db:"error_count"`
}

// LogStats summarizes recent ingestion volume.
type LogStats struct {
	TotalLogs     int64      `json:"totalLogs"`
	ErrorCount    int64      `json:"errorCount"`
	WarningCount  int64      `json:"warningCount"`
	LogsPerMinute float64    `json:"logsPerMinute"`
	TopApps       []AppStats `json:"topApps"`
}

// IngestEnvelope is one raw line received from a line source.
type IngestEnvelope struct {
	Source string
	Remote string
	Line   string
}
