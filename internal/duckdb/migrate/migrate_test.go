package migrate

import (
	"context"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
)

const migrationCount = 3

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewRunner(db).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"logs", "app_logs", "projects", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	cur, pending, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != migrationCount || pending != 0 {
		t.Errorf("expected version=%d pending=0, got version=%d pending=%d", migrationCount, cur, pending)
	}
}

func TestStatusBeforeRun(t *testing.T) {
	db := openTestDB(t)

	cur, pending, err := NewRunner(db).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 0 || pending != migrationCount {
		t.Errorf("expected version=0 pending=%d, got version=%d pending=%d", migrationCount, cur, pending)
	}
}

func TestProjectsAPIKeyIsUnique(t *testing.T) {
	db := openTestDB(t)
	if err := NewRunner(db).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	insert := "INSERT INTO projects (id, name, api_key, created_at) VALUES (?, ?, ?, current_timestamp)"
	if _, err := db.Exec(insert, "a", "one", "bw_same"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "b", "two", "bw_same"); err == nil {
		t.Error("expected unique violation on duplicate api_key")
	}
}

func TestRunFillsGapAfterPartialLedger(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r := NewRunner(db)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := db.Exec("DELETE FROM schema_migrations WHERE version = 2"); err != nil {
		t.Fatalf("delete ledger row: %v", err)
	}

	cur, pending, err := r.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != migrationCount || pending != 1 {
		t.Fatalf("version=%d pending=%d, want %d/1", cur, pending, migrationCount)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if _, pending, _ := r.Status(ctx); pending != 0 {
		t.Fatalf("pending after re-run = %d, want 0", pending)
	}
}

func TestLoadOrdersByVersion(t *testing.T) {
	migs, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migs) != migrationCount {
		t.Fatalf("migrations = %d, want %d", len(migs), migrationCount)
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Fatalf("migs[%d].Version = %d, want %d", i, m.Version, i+1)
		}
	}
}
