// Package duckdb is the storage adapter over an embedded DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/duckdb/migrate"
	"github.com/tinytelemetry/burrow/internal/sqlutil"
)

const defaultQueryTimeout = 30 * time.Second

// QueryError is the typed failure returned for any statement the store
// could not run.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("duckdb: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsQueryError reports whether err came from a failed store statement.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// Store manages the DuckDB database connection. Reads share a read lock;
// writes and transactions take the write lock.
type Store struct {
	db           *sqlx.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and applies pending
// migrations. If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("duckdb", dbPath)
	if err != nil {
		return nil, err
	}

	qt := defaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), qt)
	defer cancel()
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle for tests and maintenance tasks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.QueryTimeout)
}

func (s *Store) fail(op, query string, args []any, err error) error {
	log.Error().Err(err).Str("op", op).Str("sql", sqlutil.Redact(query, args)).Msg("duckdb: statement failed")
	return &QueryError{Op: op, Err: err}
}

// Exec runs a write statement and returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.fail("exec", query, args, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// QueryRows runs a read statement and hands the open cursor to fn.
func (s *Store) QueryRows(ctx context.Context, query string, args []any, fn func(*sqlx.Rows) error) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return s.fail("query", query, args, err)
	}
	defer rows.Close()

	if err := fn(rows); err != nil {
		return s.fail("scan", query, args, err)
	}
	if err := rows.Err(); err != nil {
		return s.fail("rows", query, args, err)
	}
	return nil
}

// Get scans a single row into dest. It returns sql.ErrNoRows unwrapped
// when the query matches nothing.
func (s *Store) Get(ctx context.Context, dest any, query string, args ...any) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	err := s.db.GetContext(ctx, dest, query, args...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return err
	default:
		return s.fail("get", query, args, err)
	}
}

// Select scans every row into the slice pointed to by dest.
func (s *Store) Select(ctx context.Context, dest any, query string, args ...any) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.SelectContext(ctx, dest, query, args...); err != nil {
		return s.fail("select", query, args, err)
	}
	return nil
}

// WithTx runs fn inside one transaction under the write lock. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &QueryError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		log.Error().Err(err).Msg("duckdb: transaction failed")
		return &QueryError{Op: "tx", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &QueryError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

// Query runs a read statement and maps each row with mapper.
func Query[T any](ctx context.Context, s *Store, mapper func(*sqlx.Rows) (T, error), query string, args ...any) ([]T, error) {
	var out []T
	err := s.QueryRows(ctx, query, args, func(rows *sqlx.Rows) error {
		for rows.Next() {
			v, err := mapper(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
