package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/burrow/internal/duckdb"
	"github.com/tinytelemetry/burrow/internal/logstore"
	"github.com/tinytelemetry/burrow/internal/model"
)

type fakePruner struct {
	name string
	err  error

	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *fakePruner) Name() string { return p.name }

func (p *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 1, p.err
}

func (p *fakePruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	tests := []struct {
		name    string
		targets []Target
	}{
		{"no targets", nil},
		{"zero days", []Target{{Pruner: &fakePruner{name: "logs"}, Days: 0}}},
		{"negative days", []Target{{Pruner: &fakePruner{name: "logs"}, Days: -3}}},
		{"nil pruner", []Target{{Days: 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := New(tt.targets); c != nil {
				c.Stop()
				t.Fatal("expected nil cleaner")
			}
		})
	}
}

func TestStartupCatchUpUsesCutoffPerTarget(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	logs := &fakePruner{name: "logs"}
	appLogs := &fakePruner{name: "app_logs"}
	off := &fakePruner{name: "off"}

	c := New([]Target{
		{Pruner: logs, Days: 30},
		{Pruner: appLogs, Days: 7},
		{Pruner: off, Days: 0},
	}, Config{Interval: time.Hour, Clock: func() time.Time { return now }})
	defer c.Stop()

	if logs.calls() != 1 || appLogs.calls() != 1 {
		t.Fatalf("startup calls logs=%d app_logs=%d, want 1 each", logs.calls(), appLogs.calls())
	}
	if off.calls() != 0 {
		t.Error("disabled target was pruned")
	}
	if want := now.AddDate(0, 0, -30); !logs.cutoffs[0].Equal(want) {
		t.Errorf("logs cutoff = %v, want %v", logs.cutoffs[0], want)
	}
	if want := now.AddDate(0, 0, -7); !appLogs.cutoffs[0].Equal(want) {
		t.Errorf("app_logs cutoff = %v, want %v", appLogs.cutoffs[0], want)
	}
}

func TestFailureDoesNotStopOtherTargets(t *testing.T) {
	broken := &fakePruner{name: "logs", err: errors.New("disk full")}
	healthy := &fakePruner{name: "app_logs"}

	c := New([]Target{{Pruner: broken, Days: 1}, {Pruner: healthy, Days: 1}})
	defer c.Stop()

	if healthy.calls() != 1 {
		t.Errorf("healthy target calls = %d, want 1", healthy.calls())
	}
}

func TestPeriodicRuns(t *testing.T) {
	p := &fakePruner{name: "logs"}
	c := New([]Target{{Pruner: p, Days: 1}}, Config{Interval: 10 * time.Millisecond})
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for p.calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d runs before deadline", p.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New([]Target{{Pruner: &fakePruner{name: "logs"}, Days: 1}})
	if c == nil {
		t.Fatal("expected non-nil cleaner")
	}
	c.Stop()
	c.Stop()
}

func TestCleanerAgainstStore(t *testing.T) {
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	now := time.Now().UTC()
	stamp := now.AddDate(0, 0, -10)
	repo := logstore.NewRepository(store, logstore.WithClock(func() time.Time { return stamp }))
	ctx := context.Background()
	if err := repo.InsertBatch(ctx, []model.LogEntry{{AppName: "svc", Message: "old"}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	stamp = now
	if err := repo.InsertBatch(ctx, []model.LogEntry{{AppName: "svc", Message: "new"}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	c := New([]Target{{Pruner: repo, Days: 5}})
	defer c.Stop()

	n, err := repo.Count(ctx, model.LogQuery{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows after retention = %d, want 1", n)
	}
}
