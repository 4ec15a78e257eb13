// Package backup takes periodic snapshots of the DuckDB file, keeps the
// most recent copies on disk and optionally ships each one to S3.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	filePrefix  = "burrow-"
	fileSuffix  = ".duckdb"
	stampLayout = "20060102-150405.000"
)

// Config controls periodic store snapshots.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Snapshotter copies a consistent image of the store to a file.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}

// Uploader ships one snapshot file off the host.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Manager runs periodic local snapshots and optional remote uploads.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	clock    func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg, takes a startup snapshot and starts the
// periodic loop. It returns nil when backups are disabled.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := checkConfig(store, &cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		u, err := newAWSUploader(cfg)
		if err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
		uploader = u
	}

	m := newManager(store, cfg, uploader)
	if err := m.RunOnce(m.ctx); err != nil {
		log.Error().Err(err).Msg("backup: startup snapshot failed")
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func checkConfig(store Snapshotter, cfg *Config) error {
	switch {
	case store == nil:
		return errors.New("backup: nil snapshotter")
	case strings.TrimSpace(store.DBPath()) == "":
		return errors.New("backup: db-path is empty (in-memory store)")
	case strings.TrimSpace(cfg.LocalDir) == "":
		return errors.New("backup: local-dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	return nil
}

func newManager(store Snapshotter, cfg Config, uploader Uploader) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil && m.ctx.Err() == nil {
				log.Error().Err(err).Msg("backup: periodic snapshot failed")
			}
		}
	}
}

// RunOnce creates one snapshot, uploads it when an uploader is configured
// and prunes local copies beyond KeepLast.
func (m *Manager) RunOnce(ctx context.Context) error {
	name := filePrefix + m.clock().UTC().Format(stampLayout) + fileSuffix
	dst := filepath.Join(m.cfg.LocalDir, name)

	start := time.Now()
	if err := m.store.SnapshotTo(dst); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.Info().Str("path", dst).Dur("took", time.Since(start)).Msg("backup: snapshot created")

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, dst); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.Info().Str("file", name).Msg("backup: snapshot uploaded")
	}

	pruned, err := pruneSnapshots(m.cfg.LocalDir, m.cfg.KeepLast)
	if err != nil {
		return fmt.Errorf("prune local backups: %w", err)
	}
	if pruned > 0 {
		log.Debug().Int("removed", pruned).Msg("backup: pruned old snapshots")
	}
	return nil
}

// Stop cancels any in-flight upload and waits for the loop to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

// pruneSnapshots removes all but the keepLast newest snapshot files in dir.
// Names embed the UTC timestamp, so lexical order is chronological.
func pruneSnapshots(dir string, keepLast int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileSuffix) {
			names = append(names, e.Name())
		}
	}
	if keepLast <= 0 || len(names) <= keepLast {
		return 0, nil
	}

	slices.Sort(names)
	stale := names[:len(names)-keepLast]
	for _, name := range stale {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return len(stale), nil
}
