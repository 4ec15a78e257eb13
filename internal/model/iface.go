package model

import "context"

// LogWriter persists batches of log entries.
type LogWriter interface {
	InsertBatch(ctx context.Context, entries []LogEntry) error
}

// LogReader is the read and maintenance contract of the primary log store.
type LogReader interface {
	GetPaged(ctx context.Context, q LogQuery) (PagedResult[LogEntry], error)
	GetStats(ctx context.Context) (*LogStats, error)
	GetAppNames(ctx context.Context) ([]string, error)
	GetEnvironments(ctx context.Context) ([]string, error)
	GetPatterns(ctx context.Context, q PatternQuery) ([]LogPattern, error)
	GetTraceTimeline(ctx context.Context, traceID string) (*TraceTimeline, error)
	DeleteLogs(ctx context.Context, olderThanDays *int) error
}

// AppLogWriter persists batches of app-log entries.
type AppLogWriter interface {
	InsertBatch(ctx context.Context, entries []AppLogEntry) error
}

// AppLogReader is the read and maintenance contract of the app-log store.
type AppLogReader interface {
	GetPaged(ctx context.Context, q AppLogQuery) (PagedResult[AppLogEntry], error)
	DeleteLogs(ctx context.Context, olderThanDays *int) error
}
