// Package project manages API-key scoped projects and validates ingest
// keys through an in-memory cache.
package project

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/duckdb"
	"github.com/tinytelemetry/burrow/internal/model"
)

const projectColumns = "id, name, api_key, created_at, expires_at"

type projectRow struct {
	ID        string       `db:"id"`
	Name      string       `db:"name"`
	APIKey    string       `db:"api_key"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

func (r *projectRow) toProject() model.Project {
	p := model.Project{
		Name:      r.Name,
		APIKey:    r.APIKey,
		CreatedAt: r.CreatedAt,
	}
	p.ID, _ = uuid.Parse(r.ID)
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		p.ExpiresAt = &t
	}
	return p
}

// Repository reads and writes the projects table.
type Repository struct {
	store *duckdb.Store
}

// NewRepository returns a repository over store.
func NewRepository(store *duckdb.Store) *Repository {
	return &Repository{store: store}
}

// List returns every project ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]model.Project, error) {
	var rows []projectRow
	if err := r.store.Select(ctx, &rows, "SELECT "+projectColumns+" FROM projects ORDER BY created_at, name"); err != nil {
		return nil, err
	}
	out := make([]model.Project, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toProject())
	}
	return out, nil
}

// GetByAPIKey returns the project owning key, or nil when none does.
func (r *Repository) GetByAPIKey(ctx context.Context, key string) (*model.Project, error) {
	return r.getOne(ctx, "SELECT "+projectColumns+" FROM projects WHERE api_key = ?", key)
}

// GetByID returns the project with id, or nil when none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	return r.getOne(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id.String())
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*model.Project, error) {
	var row projectRow
	err := r.store.Get(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := row.toProject()
	return &p, nil
}

// Insert stores a new project.
func (r *Repository) Insert(ctx context.Context, p model.Project) error {
	var expires any
	if p.ExpiresAt != nil {
		expires = p.ExpiresAt.UTC()
	}
	_, err := r.store.Exec(ctx,
		"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?)",
		p.ID.String(), p.Name, p.APIKey, p.CreatedAt.UTC(), expires)
	return err
}

// UpdateName renames a project and reports whether it existed.
func (r *Repository) UpdateName(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	n, err := r.store.Exec(ctx, "UPDATE projects SET name = ? WHERE id = ?", name, id.String())
	return n > 0, err
}

// Delete removes a project and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.store.Exec(ctx, "DELETE FROM projects WHERE id = ?", id.String())
	return n > 0, err
}
