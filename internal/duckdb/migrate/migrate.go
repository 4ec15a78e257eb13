// Package migrate applies the embedded, versioned schema to a DuckDB database.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var files embed.FS

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       VARCHAR NOT NULL,
	applied_at TIMESTAMP DEFAULT current_timestamp
)`

// Runner applies versioned SQL migrations to a DuckDB database.
type Runner struct{ db *sqlx.DB }

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sqlx.DB) *Runner {
	return &Runner{db: db}
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// load reads NNN_name.sql files in version order. Duplicate versions are
// rejected.
func load() ([]migration, error) {
	entries, err := fs.ReadDir(files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var migs []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", name, err)
		}
		body, err := fs.ReadFile(files, path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		migs = append(migs, migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(migs, func(a, b migration) int { return a.Version - b.Version })
	for i := 1; i < len(migs); i++ {
		if migs[i].Version == migs[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)", migs[i].Version, migs[i-1].Name, migs[i].Name)
		}
	}
	return migs, nil
}

// applied returns the set of versions recorded in schema_migrations.
func (r *Runner) applied(ctx context.Context) (map[int]bool, error) {
	if _, err := r.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	var versions []int
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return nil, fmt.Errorf("reading applied versions: %w", err)
	}
	set := make(map[int]bool, len(versions))
	for _, v := range versions {
		set[v] = true
	}
	return set, nil
}

// pending lists the migrations not yet recorded, in version order.
func (r *Runner) pending(ctx context.Context) ([]migration, int, error) {
	migs, err := load()
	if err != nil {
		return nil, 0, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, 0, err
	}

	current := 0
	var todo []migration
	for _, m := range migs {
		if done[m.Version] {
			current = max(current, m.Version)
			continue
		}
		todo = append(todo, m)
	}
	return todo, current, nil
}

// Run applies all pending migrations in order, each in its own transaction.
func (r *Runner) Run(ctx context.Context) error {
	todo, _, err := r.pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range todo {
		if err := r.apply(ctx, m); err != nil {
			return err
		}
		log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("migrate: applied")
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, m migration) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing %s: %w", m.Name, err)
	}
	if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return fmt.Errorf("recording %s: %w", m.Name, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}

// Status returns the highest applied version and the number of pending
// migrations.
func (r *Runner) Status(ctx context.Context) (current int, pending int, err error) {
	todo, current, err := r.pending(ctx)
	if err != nil {
		return 0, 0, err
	}
	return current, len(todo), nil
}
