// Package logstore is the repository and aggregation engine over the logs
// table.
package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tinytelemetry/burrow/internal/duckdb"
	"github.com/tinytelemetry/burrow/internal/model"
	"github.com/tinytelemetry/burrow/internal/sqlutil"
)

const table = "logs"

// ErrInvalidQuery is returned when filter input cannot be turned into a
// safe query.
var ErrInvalidQuery = errors.New("logstore: invalid query")

var logColumns = []string{
	"id", "timestamp", "level", "level_num", "app_name", "message", "metadata",
	"environment", "host", "source",
	"exception_type", "exception_message", "exception_stacktrace",
	"request_method", "request_path", "status_code", "duration_ms",
	"trace_id", "span_id", "user_id", "project_id", "project_name",
}

var insertSQL = "INSERT INTO " + table + " (" + strings.Join(logColumns, ", ") + ") VALUES (" +
	strings.TrimSuffix(strings.Repeat("?, ", len(logColumns)), ", ") + ")"

// logRow is a LogEntry as stored.
type logRow struct {
	ID                  string          `db:"id"`
	Timestamp           time.Time       `db:"timestamp"`
	Level               string          `db:"level"`
	LevelNum            int             `db:"level_num"`
	AppName             string          `db:"app_name"`
	Message             string          `db:"message"`
	Metadata            string          `db:"metadata"`
	Environment         string          `db:"environment"`
	Host                string          `db:"host"`
	Source              string          `db:"source"`
	ExceptionType       string          `db:"exception_type"`
	ExceptionMessage    string          `db:"exception_message"`
	ExceptionStackTrace string          `db:"exception_stacktrace"`
	RequestMethod       string          `db:"request_method"`
	RequestPath         string          `db:"request_path"`
	StatusCode          sql.NullInt32   `db:"status_code"`
	DurationMs          sql.NullFloat64 `db:"duration_ms"`
	TraceID             string          `db:"trace_id"`
	SpanID              string          `db:"span_id"`
	UserID              string          `db:"user_id"`
	ProjectID           sql.NullString  `db:"project_id"`
	ProjectName         string          `db:"project_name"`
}

func (r *logRow) toEntry() model.LogEntry {
	e := model.LogEntry{
		Timestamp:           r.Timestamp,
		Level:               model.Level(r.LevelNum),
		AppName:             r.AppName,
		Message:             r.Message,
		Metadata:            r.Metadata,
		Environment:         r.Environment,
		Host:                r.Host,
		Source:              r.Source,
		ExceptionType:       r.ExceptionType,
		ExceptionMessage:    r.ExceptionMessage,
		ExceptionStackTrace: r.ExceptionStackTrace,
		RequestMethod:       r.RequestMethod,
		RequestPath:         r.RequestPath,
		TraceID:             r.TraceID,
		SpanID:              r.SpanID,
		UserID:              r.UserID,
		ProjectName:         r.ProjectName,
	}
	if id, err := uuid.Parse(r.ID); err == nil {
		e.ID = id
	}
	if r.StatusCode.Valid {
		v := int(r.StatusCode.Int32)
		e.StatusCode = &v
	}
	if r.DurationMs.Valid {
		v := r.DurationMs.Float64
		e.DurationMs = &v
	}
	if r.ProjectID.Valid {
		if id, err := uuid.Parse(r.ProjectID.String); err == nil {
			e.ProjectID = &id
		}
	}
	return e
}

// Repository reads and writes the logs table.
type Repository struct {
	store *duckdb.Store
	clock func() time.Time
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock replaces the time source used for insert timestamps and the
// rolling windows of stats and patterns.
func WithClock(clock func() time.Time) Option {
	return func(r *Repository) { r.clock = clock }
}

// NewRepository returns a repository over store.
func NewRepository(store *duckdb.Store, opts ...Option) *Repository {
	r := &Repository{store: store, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) now() time.Time {
	return r.clock().UTC()
}

// Name identifies the table for retention logging.
func (r *Repository) Name() string { return table }

// Insert persists one entry.
func (r *Repository) Insert(ctx context.Context, entry model.LogEntry) error {
	return r.InsertBatch(ctx, []model.LogEntry{entry})
}

// InsertBatch persists entries in one transaction. Every row is stamped
// with the server clock; client-supplied timestamps are discarded.
func (r *Repository) InsertBatch(ctx context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.store.WithTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, insertSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range entries {
			if _, err := stmt.ExecContext(ctx, r.insertArgs(&entries[i])...); err != nil {
				return fmt.Errorf("inserting log %s: %w", entries[i].ID, err)
			}
		}
		return nil
	})
}

func (r *Repository) insertArgs(e *model.LogEntry) []any {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	level := e.Level
	if !level.Valid() {
		level = model.LevelInfo
	}
	metadata := e.Metadata
	if metadata == "" {
		metadata = model.DefaultMetadata
	}
	env := e.Environment
	if env == "" {
		env = model.DefaultEnvironment
	}

	var statusCode, durationMs, projectID any
	if e.StatusCode != nil {
		statusCode = int32(*e.StatusCode)
	}
	if e.DurationMs != nil {
		durationMs = *e.DurationMs
	}
	if e.ProjectID != nil {
		projectID = e.ProjectID.String()
	}

	return []any{
		id.String(), r.now(), level.String(), int(level), e.AppName, e.Message, metadata,
		env, e.Host, e.Source,
		e.ExceptionType, e.ExceptionMessage, e.ExceptionStackTrace,
		e.RequestMethod, e.RequestPath, statusCode, durationMs,
		e.TraceID, e.SpanID, e.UserID, projectID, e.ProjectName,
	}
}

// whereLevels adds the single-level and level-set predicates, rejecting
// levels outside the known range.
func whereLevels(b *sqlutil.Builder, level *model.Level, levels []model.Level) error {
	if level != nil {
		if !level.Valid() {
			return fmt.Errorf("%w: level %d", ErrInvalidQuery, int(*level))
		}
		b.Where("level", level.String())
	}
	if len(levels) > 0 {
		names := make([]string, 0, len(levels))
		for _, l := range levels {
			if !l.Valid() {
				return fmt.Errorf("%w: level %d", ErrInvalidQuery, int(l))
			}
			names = append(names, l.String())
		}
		b.WhereIn("level", sqlutil.Values(names))
	}
	return nil
}

// filter maps every populated field of q to one predicate.
func filter(q model.LogQuery) (*sqlutil.Builder, error) {
	b := sqlutil.MustNew(table)

	if err := whereLevels(b, q.Level, q.Levels); err != nil {
		return nil, err
	}
	if q.AppName != "" {
		b.Where("app_name", q.AppName)
	}
	if q.Search != "" {
		b.WhereLike("message", q.Search)
	}
	if q.Environment != "" {
		b.Where("environment", q.Environment)
	}
	if q.TraceID != "" {
		b.Where("trace_id", q.TraceID)
	}
	if q.ProjectID != nil {
		b.Where("project_id", q.ProjectID.String())
	}
	if q.ExceptionType != "" {
		b.Where("exception_type", q.ExceptionType)
	}
	if q.Source != "" {
		b.Where("source", q.Source)
	}
	if q.UserID != "" {
		b.Where("user_id", q.UserID)
	}
	if q.RequestMethod != "" {
		b.Where("request_method", strings.ToUpper(q.RequestMethod))
	}

	switch {
	case q.StatusCodeMin != nil && q.StatusCodeMax != nil:
		b.WhereBetween("status_code", *q.StatusCodeMin, *q.StatusCodeMax)
	case q.StatusCodeMin != nil:
		b.WhereOp("status_code", ">=", *q.StatusCodeMin)
	case q.StatusCodeMax != nil:
		b.WhereOp("status_code", "<=", *q.StatusCodeMax)
	}

	switch {
	case q.From != nil && q.To != nil:
		b.WhereBetween("timestamp", q.From.UTC(), q.To.UTC())
	case q.From != nil:
		b.WhereOp("timestamp", ">=", q.From.UTC())
	case q.To != nil:
		b.WhereOp("timestamp", "<=", q.To.UTC())
	}
	return b, nil
}

// GetPaged returns one page of entries matching q, newest first, with the
// total match count.
func (r *Repository) GetPaged(ctx context.Context, q model.LogQuery) (model.PagedResult[model.LogEntry], error) {
	page := max(q.Page, 1)
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	pageSize = sqlutil.SafeInt(pageSize, 1, model.MaxPageSize)

	b, err := filter(q)
	if err != nil {
		return model.PagedResult[model.LogEntry]{}, err
	}

	var total int64
	countSQL, countArgs := b.BuildCount()
	if err := r.store.Get(ctx, &total, countSQL, countArgs...); err != nil {
		return model.PagedResult[model.LogEntry]{}, err
	}

	selectSQL, args := b.Select(logColumns...).OrderByDesc("timestamp").Paginate(page, pageSize).BuildSelect()
	entries, err := r.queryEntries(ctx, selectSQL, args)
	if err != nil {
		return model.PagedResult[model.LogEntry]{}, err
	}
	return model.NewPagedResult(entries, total, page, pageSize), nil
}

// Count returns the number of entries matching q.
func (r *Repository) Count(ctx context.Context, q model.LogQuery) (int64, error) {
	b, err := filter(q)
	if err != nil {
		return 0, err
	}
	var total int64
	query, args := b.BuildCount()
	if err := r.store.Get(ctx, &total, query, args...); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Repository) queryEntries(ctx context.Context, query string, args []any) ([]model.LogEntry, error) {
	return duckdb.Query(ctx, r.store, func(rows *sqlx.Rows) (model.LogEntry, error) {
		var row logRow
		if err := rows.StructScan(&row); err != nil {
			return model.LogEntry{}, err
		}
		return row.toEntry(), nil
	}, query, args...)
}

// GetAppNames lists distinct app names alphabetically.
func (r *Repository) GetAppNames(ctx context.Context) ([]string, error) {
	names := []string{}
	err := r.store.Select(ctx, &names, "SELECT DISTINCT app_name FROM logs ORDER BY app_name")
	return names, err
}

// GetEnvironments lists distinct non-empty environments alphabetically.
func (r *Repository) GetEnvironments(ctx context.Context) ([]string, error) {
	envs := []string{}
	err := r.store.Select(ctx, &envs, "SELECT DISTINCT environment FROM logs WHERE environment <> '' ORDER BY environment")
	return envs, err
}

// DeleteLogs removes entries older than olderThanDays, or every entry when
// olderThanDays is nil. The delete is irreversible.
func (r *Repository) DeleteLogs(ctx context.Context, olderThanDays *int) error {
	if olderThanDays == nil {
		_, err := r.store.Exec(ctx, "TRUNCATE "+table)
		return err
	}
	if *olderThanDays < 0 {
		return fmt.Errorf("%w: olderThanDays must not be negative", ErrInvalidQuery)
	}
	_, err := r.DeleteOlderThan(ctx, r.now().AddDate(0, 0, -*olderThanDays))
	return err
}

// DeleteOlderThan removes entries with a timestamp before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.store.Exec(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff.UTC())
}
