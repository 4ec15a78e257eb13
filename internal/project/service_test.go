package project

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/burrow/internal/duckdb"
	"github.com/tinytelemetry/burrow/internal/model"
)

// countingStore wraps a Store and counts calls by method.
type countingStore struct {
	Store
	mu      sync.Mutex
	lists   int
	lookups int
	failing error

	// afterRead runs once, after the next List or GetByAPIKey has read
	// the store.
	afterRead func()
}

func (c *countingStore) fireAfterRead() {
	c.mu.Lock()
	fn := c.afterRead
	c.afterRead = nil
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *countingStore) List(ctx context.Context) ([]model.Project, error) {
	c.mu.Lock()
	c.lists++
	err := c.failing
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	projects, err := c.Store.List(ctx)
	c.fireAfterRead()
	return projects, err
}

func (c *countingStore) GetByAPIKey(ctx context.Context, key string) (*model.Project, error) {
	c.mu.Lock()
	c.lookups++
	err := c.failing
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p, err := c.Store.GetByAPIKey(ctx, key)
	c.fireAfterRead()
	return p, err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *countingStore, *fakeClock) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cs := &countingStore{Store: NewRepository(store)}
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	return NewService(cs, WithClock(clock.Now), WithCacheTTL(5*time.Minute)), cs, clock
}

func daysp(v int) *int { return &v }

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, _ := GenerateKey()
	if !strings.HasPrefix(a, KeyPrefix) || len(a) != len(KeyPrefix)+32 {
		t.Errorf("key = %q", a)
	}
	if a == b {
		t.Error("keys are not unique")
	}
}

func TestCreateAndValidate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, "  checkout  ", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Name != "checkout" || p.ExpiresAt != nil {
		t.Errorf("created = %+v", p)
	}

	got, err := svc.ValidateAPIKey(ctx, p.APIKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Fatalf("ValidateAPIKey = %+v, want project %s", got, p.ID)
	}

	for _, key := range []string{"", "   ", "bw_unknown"} {
		got, err := svc.ValidateAPIKey(ctx, key)
		if err != nil || got != nil {
			t.Errorf("ValidateAPIKey(%q) = (%v, %v), want (nil, nil)", key, got, err)
		}
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name err = %v", err)
	}
	if _, err := svc.Create(ctx, strings.Repeat("x", 101), nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long name err = %v", err)
	}
	if _, err := svc.Create(ctx, "ok", daysp(0)); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("zero expiry err = %v", err)
	}
}

func TestExpiredKeyIsRejectedFromCache(t *testing.T) {
	svc, cs, clock := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, "short-lived", daysp(1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := svc.ValidateAPIKey(ctx, p.APIKey); got == nil {
		t.Fatal("fresh key rejected")
	}

	clock.Advance(25 * time.Hour)
	got, err := svc.ValidateAPIKey(ctx, p.APIKey)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if got != nil {
		t.Error("expired key accepted")
	}
	if cs.lists == 0 {
		t.Error("stale cache was not refreshed")
	}
}

func TestCacheServesRepeatedLookups(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, "cached", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// First use loads the cache.
	if _, err := svc.ValidateAPIKey(ctx, p.APIKey); err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	lists, lookups := cs.lists, cs.lookups
	for i := 0; i < 10; i++ {
		if got, _ := svc.ValidateAPIKey(ctx, p.APIKey); got == nil {
			t.Fatal("cached key rejected")
		}
	}
	if cs.lists != lists || cs.lookups != lookups {
		t.Errorf("store hit on cached key: lists %d->%d lookups %d->%d", lists, cs.lists, lookups, cs.lookups)
	}
}

func TestUnknownKeyIsNeverCached(t *testing.T) {
	svc, cs, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got, _ := svc.ValidateAPIKey(ctx, "bw_nope"); got != nil {
			t.Fatal("unknown key accepted")
		}
	}
	if cs.lookups != 3 {
		t.Errorf("direct lookups = %d, want 3", cs.lookups)
	}
}

func TestKeyCreatedOutsideServiceIsFound(t *testing.T) {
	svc, cs, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	p := model.Project{ID: uuid.New(), Name: "external", APIKey: "bw_external", CreatedAt: clock.Now()}
	if err := cs.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := svc.ValidateAPIKey(ctx, "bw_external")
	if err != nil || got == nil || got.Name != "external" {
		t.Fatalf("ValidateAPIKey = (%v, %v)", got, err)
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	svc, cs, _ := newTestService(t)
	cs.failing = errors.New("connection refused")

	got, err := svc.ValidateAPIKey(context.Background(), "bw_any")
	if err == nil || got != nil {
		t.Fatalf("ValidateAPIKey = (%v, %v), want error", got, err)
	}
}

func TestRenameAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, "before", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Rename(ctx, p.ID, "after"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _ := svc.ValidateAPIKey(ctx, p.APIKey)
	if got == nil || got.Name != "after" {
		t.Errorf("renamed project = %+v", got)
	}
	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "after" {
		t.Errorf("List = (%+v, %v)", list, err)
	}

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := svc.ValidateAPIKey(ctx, p.APIKey); got != nil {
		t.Error("deleted key still validates")
	}

	missing := uuid.New()
	if err := svc.Delete(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) err = %v, want ErrNotFound", err)
	}
	if err := svc.Rename(ctx, missing, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename(missing) err = %v, want ErrNotFound", err)
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	repo := NewRepository(store)
	ctx := context.Background()

	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	p := model.Project{ID: uuid.New(), Name: "r", APIKey: "bw_r", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ExpiresAt: &exp}
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, model.Project{ID: uuid.New(), Name: "dup", APIKey: "bw_r", CreatedAt: p.CreatedAt}); err == nil {
		t.Error("duplicate api key accepted")
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID = (%v, %v)", got, err)
	}
	if got.APIKey != "bw_r" || got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) || !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("round trip = %+v", got)
	}

	none, err := repo.GetByAPIKey(ctx, "bw_missing")
	if err != nil || none != nil {
		t.Errorf("GetByAPIKey(missing) = (%v, %v)", none, err)
	}
}

func TestDeleteDuringLookupIsNotCached(t *testing.T) {
	svc, cs, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	p := model.Project{ID: uuid.New(), Name: "racy", APIKey: "bw_racy", CreatedAt: clock.Now()}
	if err := cs.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	cs.afterRead = func() {
		if err := svc.Delete(ctx, p.ID); err != nil {
			t.Errorf("Delete: %v", err)
		}
	}

	if _, err := svc.ValidateAPIKey(ctx, p.APIKey); err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if got, err := svc.ValidateAPIKey(ctx, p.APIKey); err != nil || got != nil {
		t.Fatalf("after delete ValidateAPIKey = (%+v, %v), want (nil, nil)", got, err)
	}
}

func TestDeleteDuringRefreshIsNotCached(t *testing.T) {
	svc, cs, clock := newTestService(t)
	ctx := context.Background()

	if err := svc.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	p := model.Project{ID: uuid.New(), Name: "racy", APIKey: "bw_racy", CreatedAt: clock.Now()}
	if err := cs.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	clock.Advance(6 * time.Minute)
	cs.afterRead = func() {
		if err := svc.Delete(ctx, p.ID); err != nil {
			t.Errorf("Delete: %v", err)
		}
	}

	if got, err := svc.ValidateAPIKey(ctx, p.APIKey); err != nil || got != nil {
		t.Fatalf("ValidateAPIKey = (%+v, %v), want (nil, nil)", got, err)
	}
	if got, _ := svc.ValidateAPIKey(ctx, p.APIKey); got != nil {
		t.Error("deleted key validates from a refreshed cache")
	}
}
