package logstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/burrow/internal/model"
	"github.com/tinytelemetry/burrow/internal/sqlutil"
)

// GetTraceTimeline returns every entry of traceID in timestamp order,
// truncated at model.TraceRowLimit rows. It returns nil, nil when the trace
// has no entries.
func (r *Repository) GetTraceTimeline(ctx context.Context, traceID string) (*model.TraceTimeline, error) {
	traceID = strings.TrimSpace(traceID)
	if traceID == "" {
		return nil, fmt.Errorf("%w: empty trace id", ErrInvalidQuery)
	}

	query, args := sqlutil.MustNew(table).
		Select(logColumns...).
		Where("trace_id", traceID).
		OrderBy("timestamp", "ASC").
		Limit(model.TraceRowLimit).
		BuildSelect()

	entries, err := r.queryEntries(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(traceID, entries), nil
}

// BuildTimeline derives offsets and aggregates from entries already sorted
// by timestamp. It returns nil for an empty slice.
func BuildTimeline(traceID string, entries []model.LogEntry) *model.TraceTimeline {
	if len(entries) == 0 {
		return nil
	}

	first := entries[0].Timestamp
	tl := &model.TraceTimeline{
		TraceID:  traceID,
		Logs:     make([]model.TraceLogEntry, 0, len(entries)),
		Services: []string{},
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		tl.Logs = append(tl.Logs, model.TraceLogEntry{
			LogEntry: e,
			OffsetMs: millis(e.Timestamp.Sub(first)),
		})
		if _, ok := seen[e.AppName]; !ok {
			seen[e.AppName] = struct{}{}
			tl.Services = append(tl.Services, e.AppName)
		}
		if e.Level >= model.LevelError {
			tl.HasErrors = true
		}
	}
	tl.TotalDurationMs = millis(entries[len(entries)-1].Timestamp.Sub(first))
	return tl
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
