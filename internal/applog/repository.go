// Package applog records the server's own request log in the app_logs
// table and serves it back to the dashboard.
package applog

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

const table = "app_logs"

// ErrInvalidQuery is returned for filters outside the accepted values.
var ErrInvalidQuery = errors.New("applog: invalid query")

var levels = []string{model.AppLevelInformation, model.AppLevelWarning, model.AppLevelError}

var columns = []string{
	"id", "timestamp", "level", "category", "message", "exception",
	"request_method", "request_path", "status_code", "duration_ms",
}

var insertSQL = "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" +
	strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

type row struct {
	ID            string          `db:"id"`
	Timestamp     time.Time       `db:"timestamp"`
	Level         string          `db:"level"`
	Category      string          `db:"category"`
	Message       string          `db:"message"`
	Exception     string          `db:"exception"`
	RequestMethod string          `db:"request_method"`
	RequestPath   string          `db:"request_path"`
	StatusCode    sql.NullInt32   `db:"status_code"`
	DurationMs    sql.NullFloat64 `db:"duration_ms"`
}

func (r *row) toEntry() model.AppLogEntry {
	e := model.AppLogEntry{
		Timestamp:     r.Timestamp,
		Level:         r.Level,
		Category:      r.Category,
		Message:       r.Message,
		Exception:     r.Exception,
		RequestMethod: r.RequestMethod,
		RequestPath:   r.RequestPath,
	}
	e.ID, _ = uuid.Parse(r.ID)
	if r.StatusCode.Valid {
		v := int(r.StatusCode.Int32)
		e.StatusCode = &v
	}
	if r.DurationMs.Valid {
		v := r.DurationMs.Float64
		e.DurationMs = &v
	}
	return e
}

// Repository reads and writes the app_logs table.
type Repository struct {
	store *duckdb.Store
	clock func() time.Time
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock replaces the time source used to stamp inserted entries.
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

// Name identifies the table for retention logging.
func (r *Repository) Name() string { return table }

// InsertBatch persists entries in one transaction. Entries without a
// timestamp are stamped with the flush time; the request logger leaves
// it unset.
func (r *Repository) InsertBatch(ctx context.Context, entries []model.AppLogEntry) error {
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
				return fmt.Errorf("inserting app log: %w", err)
			}
		}
		return nil
	})
}

func (r *Repository) insertArgs(e *model.AppLogEntry) []any {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = r.clock()
	}
	level, ok := sqlutil.SafeWhitelist(e.Level, levels)
	if !ok {
		level = model.AppLevelInformation
	}

	var statusCode, durationMs any
	if e.StatusCode != nil {
		statusCode = int32(*e.StatusCode)
	}
	if e.DurationMs != nil {
		durationMs = *e.DurationMs
	}
	return []any{
		id.String(), ts.UTC(), level, e.Category, e.Message, e.Exception,
		e.RequestMethod, e.RequestPath, statusCode, durationMs,
	}
}

// GetPaged returns one page of app-log entries, newest first.
func (r *Repository) GetPaged(ctx context.Context, q model.AppLogQuery) (model.PagedResult[model.AppLogEntry], error) {
	page := max(q.Page, 1)
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = model.DefaultPageSize
	}
	pageSize = sqlutil.SafeInt(pageSize, 1, model.MaxPageSize)

	b := sqlutil.MustNew(table)
	if q.Level != "" {
		level, ok := sqlutil.SafeWhitelist(q.Level, levels)
		if !ok {
			return model.PagedResult[model.AppLogEntry]{}, fmt.Errorf("%w: level %q", ErrInvalidQuery, q.Level)
		}
		b.Where("level", level)
	}
	if q.Search != "" {
		b.WhereLike("message", q.Search)
	}
	if q.From != nil {
		b.WhereOp("timestamp", ">=", q.From.UTC())
	}
	if q.To != nil {
		b.WhereOp("timestamp", "<=", q.To.UTC())
	}

	var total int64
	countSQL, countArgs := b.BuildCount()
	if err := r.store.Get(ctx, &total, countSQL, countArgs...); err != nil {
		return model.PagedResult[model.AppLogEntry]{}, err
	}

	selectSQL, args := b.Select(columns...).OrderByDesc("timestamp").Paginate(page, pageSize).BuildSelect()
	entries, err := duckdb.Query(ctx, r.store, func(rows *sqlx.Rows) (model.AppLogEntry, error) {
		var rw row
		if err := rows.StructScan(&rw); err != nil {
			return model.AppLogEntry{}, err
		}
		return rw.toEntry(), nil
	}, selectSQL, args...)
	if err != nil {
		return model.PagedResult[model.AppLogEntry]{}, err
	}
	return model.NewPagedResult(entries, total, page, pageSize), nil
}

// DeleteLogs removes entries older than olderThanDays, or every entry when
// olderThanDays is nil.
func (r *Repository) DeleteLogs(ctx context.Context, olderThanDays *int) error {
	if olderThanDays == nil {
		_, err := r.store.Exec(ctx, "TRUNCATE "+table)
		return err
	}
	if *olderThanDays < 0 {
		return fmt.Errorf("%w: olderThanDays must not be negative", ErrInvalidQuery)
	}
	_, err := r.DeleteOlderThan(ctx, r.clock().AddDate(0, 0, -*olderThanDays))
	return err
}

// DeleteOlderThan removes entries with a timestamp before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.store.Exec(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff.UTC())
}
