package applog

import (
	"context"
	"time"

	"github.com/tinytelemetry/burrow/internal/buffer"
	"github.com/tinytelemetry/burrow/internal/model"
)

// Config holds the batching parameters of the app-log buffer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig is the batching used when no overrides are configured.
var DefaultConfig = Config{BatchSize: 50, FlushInterval: 2 * time.Second}

// Service buffers app-log entries and persists them in the background.
type Service struct {
	buf *buffer.Buffer[model.AppLogEntry]
}

// NewService starts a buffer that writes into w.
func NewService(w model.AppLogWriter, conf Config) *Service {
	if conf.BatchSize <= 0 {
		conf.BatchSize = DefaultConfig.BatchSize
	}
	if conf.FlushInterval <= 0 {
		conf.FlushInterval = DefaultConfig.FlushInterval
	}
	persist := func(ctx context.Context, batch []model.AppLogEntry) error {
		return w.InsertBatch(ctx, batch)
	}
	return &Service{
		buf: buffer.New(persist, buffer.Config{
			Name:          "app_logs",
			BatchSize:     conf.BatchSize,
			FlushInterval: conf.FlushInterval,
		}),
	}
}

// Enqueue records one entry without blocking.
func (s *Service) Enqueue(e model.AppLogEntry) {
	s.buf.Enqueue(e)
}

// Pending returns the number of entries not yet persisted.
func (s *Service) Pending() int {
	return s.buf.Len()
}

// Stop drains the buffer.
func (s *Service) Stop() {
	s.buf.Stop()
}
