// Package ingest turns untrusted producer payloads (JSON API bodies, OTLP
// exports and raw lines) into canonical log entries.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/logparse"
	"github.com/tinytelemetry/burrow/internal/model"
)

// ErrValidation wraps every payload rejection.
var ErrValidation = errors.New("ingest: invalid payload")

// LogRequest is the JSON body of POST /api/logs.
type LogRequest struct {
	Level       string          `json:"level"`
	Message     string          `json:"message" binding:"required" validate:"required,max=65536"`
	AppName     string          `json:"appName" binding:"required" validate:"required,max=200"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	TraceID     string          `json:"traceId,omitempty" validate:"max=128"`
	SpanID      string          `json:"spanId,omitempty" validate:"max=128"`
	Host        string          `json:"host,omitempty" validate:"max=255"`
	Environment string          `json:"environment,omitempty" validate:"max=100"`
	UserID      string          `json:"userId,omitempty" validate:"max=200"`

	ExceptionType       string `json:"exceptionType,omitempty"`
	ExceptionMessage    string `json:"exceptionMessage,omitempty"`
	ExceptionStackTrace string `json:"exceptionStackTrace,omitempty"`

	RequestMethod string   `json:"requestMethod,omitempty" validate:"max=16"`
	RequestPath   string   `json:"requestPath,omitempty"`
	StatusCode    *int     `json:"statusCode,omitempty" validate:"omitempty,min=100,max=599"`
	DurationMs    *float64 `json:"durationMs,omitempty" validate:"omitempty,min=0"`
}

// BatchRequest is the JSON body of POST /api/logs/batch.
type BatchRequest struct {
	Logs []LogRequest `json:"logs" binding:"required,min=1,dive" validate:"required,min=1,max=10000,dive"`
}

// Meta is what the transport knows about the producer.
type Meta struct {
	Project    *model.Project
	RemoteAddr string
	Source     string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a single payload. Whitespace-only required fields are
// rejected.
func (r *LogRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if strings.TrimSpace(r.AppName) == "" {
		return fmt.Errorf("%w: appName is required", ErrValidation)
	}
	return nil
}

// Validate checks every payload of the batch. A single bad entry rejects
// the whole batch.
func (b *BatchRequest) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	for i := range b.Logs {
		if err := b.Logs[i].Validate(); err != nil {
			return fmt.Errorf("logs[%d]: %w", i, err)
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// ToEntry normalizes a validated payload. The level is parsed leniently,
// metadata is kept as compact JSON, the host falls back to the caller
// address and the project is stamped from meta.
func (r *LogRequest) ToEntry(meta Meta) model.LogEntry {
	e := model.LogEntry{
		ID:                  uuid.New(),
		Level:               logparse.ParseLevel(r.Level),
		AppName:             strings.TrimSpace(r.AppName),
		Message:             r.Message,
		Metadata:            compactMetadata(r.Metadata),
		Environment:         strings.TrimSpace(r.Environment),
		Host:                strings.TrimSpace(r.Host),
		Source:              meta.Source,
		ExceptionType:       r.ExceptionType,
		ExceptionMessage:    r.ExceptionMessage,
		ExceptionStackTrace: r.ExceptionStackTrace,
		RequestMethod:       strings.ToUpper(strings.TrimSpace(r.RequestMethod)),
		RequestPath:         r.RequestPath,
		StatusCode:          r.StatusCode,
		DurationMs:          r.DurationMs,
		TraceID:             strings.TrimSpace(r.TraceID),
		SpanID:              strings.TrimSpace(r.SpanID),
		UserID:              r.UserID,
	}
	if e.Environment == "" {
		e.Environment = model.DefaultEnvironment
	}
	stamp(&e, meta)
	return e
}

// stamp applies the transport-derived fields shared by every decoder.
func stamp(e *model.LogEntry, meta Meta) {
	if e.Host == "" {
		e.Host = meta.RemoteAddr
	}
	if e.Source == "" {
		e.Source = meta.Source
	}
	if meta.Project != nil {
		id := meta.Project.ID
		e.ProjectID = &id
		e.ProjectName = meta.Project.Name
	}
}

// compactMetadata returns raw as compact JSON, or the empty object for
// absent, null or malformed input.
func compactMetadata(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return model.DefaultMetadata
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.DefaultMetadata
	}
	out, err := json.Marshal(v)
	if err != nil {
		return model.DefaultMetadata
	}
	return string(out)
}
