package project

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/model"
)

const (
	// KeyPrefix starts every generated API key.
	KeyPrefix = "bw_"

	// DefaultCacheTTL is how long the key cache is trusted before a full
	// reload.
	DefaultCacheTTL = 5 * time.Minute

	maxNameLen = 100
)

var (
	ErrNotFound    = errors.New("project: not found")
	ErrInvalidName = errors.New("project: name must be 1-100 characters")
	ErrInvalidTTL  = errors.New("project: expiry days must be positive")
)

// Store is the persistence the service needs.
type Store interface {
	List(ctx context.Context) ([]model.Project, error)
	GetByAPIKey(ctx context.Context, key string) (*model.Project, error)
	Insert(ctx context.Context, p model.Project) error
	UpdateName(ctx context.Context, id uuid.UUID, name string) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithCacheTTL sets the staleness window of the key cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the time source used for expiry and cache age.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// Service creates and validates projects. Known keys are cached; unknown
// keys always fall through to the store so new projects work at once.
type Service struct {
	store Store
	ttl   time.Duration
	clock func() time.Time

	mu          sync.RWMutex
	byKey       map[string]model.Project
	lastRefresh time.Time
	// deletes counts Delete calls; store reads that overlap one are not cached.
	deletes uint64
}

// NewService returns a service over store. The cache starts empty and is
// loaded on first use.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		ttl:   DefaultCacheTTL,
		clock: time.Now,
		byKey: make(map[string]model.Project),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAPIKey returns the project owning key, or nil when the key is
// unknown or expired. Store failures are returned as errors.
func (s *Service) ValidateAPIKey(ctx context.Context, key string) (*model.Project, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	now := s.clock()

	s.mu.RLock()
	p, ok := s.byKey[key]
	stale := now.Sub(s.lastRefresh) > s.ttl
	s.mu.RUnlock()

	if stale {
		if err := s.RefreshCache(ctx); err != nil {
			return nil, err
		}
		s.mu.RLock()
		p, ok = s.byKey[key]
		s.mu.RUnlock()
	}

	if !ok {
		s.mu.RLock()
		gen := s.deletes
		s.mu.RUnlock()

		found, err := s.store.GetByAPIKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, nil
		}
		p = *found
		s.mu.Lock()
		if s.deletes == gen {
			s.byKey[key] = p
		}
		s.mu.Unlock()
	}

	if p.IsExpired(now) {
		return nil, nil
	}
	return &p, nil
}

// RefreshCache reloads every project from the store. A load that overlaps
// a Delete is discarded and the next validation retries it.
func (s *Service) RefreshCache(ctx context.Context) error {
	s.mu.RLock()
	gen := s.deletes
	s.mu.RUnlock()

	projects, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("project: refreshing cache: %w", err)
	}
	byKey := make(map[string]model.Project, len(projects))
	for _, p := range projects {
		byKey[p.APIKey] = p
	}

	s.mu.Lock()
	if s.deletes != gen {
		s.mu.Unlock()
		log.Debug().Msg("project: cache refresh raced a delete, discarded")
		return nil
	}
	s.byKey = byKey
	s.lastRefresh = s.clock()
	s.mu.Unlock()

	log.Debug().Int("projects", len(projects)).Msg("project: cache refreshed")
	return nil
}

// Create stores a new project with a freshly generated key. A nil
// expiryDays creates a key that never expires.
func (s *Service) Create(ctx context.Context, name string, expiryDays *int) (*model.Project, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if expiryDays != nil && *expiryDays <= 0 {
		return nil, ErrInvalidTTL
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	p := model.Project{
		ID:        uuid.New(),
		Name:      name,
		APIKey:    key,
		CreatedAt: now,
	}
	if expiryDays != nil {
		exp := now.AddDate(0, 0, *expiryDays)
		p.ExpiresAt = &exp
	}
	if err := s.store.Insert(ctx, p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.byKey[p.APIKey] = p
	s.mu.Unlock()

	log.Info().Str("project", p.Name).Str("id", p.ID.String()).Msg("project: created")
	return &p, nil
}

// List returns every project.
func (s *Service) List(ctx context.Context) ([]model.Project, error) {
	return s.store.List(ctx)
}

// Rename changes the display name of a project.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateName(ctx, id, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	s.mu.Lock()
	for k, p := range s.byKey {
		if p.ID == id {
			p.Name = name
			s.byKey[k] = p
		}
	}
	s.mu.Unlock()
	return nil
}

// Delete removes a project. Its key stops validating immediately.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.deletes++
	for k, p := range s.byKey {
		if p.ID == id {
			delete(s.byKey, k)
		}
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	log.Info().Str("id", id.String()).Msg("project: deleted")
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > maxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

// GenerateKey returns KeyPrefix followed by 32 random hex characters.
func GenerateKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("project: generating key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b[:]), nil
}
