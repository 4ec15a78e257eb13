package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// SnapshotTo writes a consistent copy of the database file to dstPath.
// Writers are paused only for the CHECKPOINT; the copy runs unlocked.
func (s *Store) SnapshotTo(dstPath string) error {
	if s.dbPath == "" {
		return ErrInMemoryStore
	}

	if err := s.checkpoint(); err != nil {
		return err
	}
	n, err := atomicCopy(s.dbPath, dstPath)
	if err != nil {
		return fmt.Errorf("copy duckdb file: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("copy duckdb file: %s is empty", s.dbPath)
	}
	return nil
}

func (s *Store) checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// atomicCopy copies src into a temp file beside dst, syncs it and renames
// it into place. A failed copy leaves nothing under dst.
func atomicCopy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	out, err := os.CreateTemp(dir, filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmp := out.Name()

	n, err := io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
