// Package store manages zb's content-addressable store: one immutable,
// extracted directory per bottle sha256, shared by every installed keg that
// references it.
package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zb-pm/zb/internal/archive"
	"github.com/zb-pm/zb/internal/filelock"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

// Store roots the content-addressable tree at dir/<key>, with per-key
// extraction locks under dir's sibling locks directory.
type Store struct {
	dir      string
	locksDir string
}

// New returns a Store that extracts entries under dir, using locksDir for
// per-key advisory locks during extraction.
func New(dir, locksDir string) *Store {
	return &Store{dir: dir, locksDir: locksDir}
}

// EntryPath returns the path a store entry for key would occupy, whether
// or not it has been extracted yet.
func (s *Store) EntryPath(key model.StoreKey) string {
	return filepath.Join(s.dir, string(key))
}

func (s *Store) completeMarker(key model.StoreKey) string {
	return s.EntryPath(key) + ".complete"
}

func (s *Store) lockPath(key model.StoreKey) string {
	return filepath.Join(s.locksDir, string(key)+".lock")
}

// EnsureEntry extracts blobPath into the store under key if it is not
// already present, and returns the entry's path. Concurrent callers for
// the same key converge on one extraction: the fast path checks the
// ".complete" marker before taking any lock, the slow path re-checks after
// acquiring the per-key lock so a racing extraction is never duplicated.
func (s *Store) EnsureEntry(key model.StoreKey, blobPath string) (string, error) {
	entryPath := s.EntryPath(key)

	if _, err := os.Stat(s.completeMarker(key)); err == nil {
		return entryPath, nil
	}

	if err := os.MkdirAll(s.locksDir, 0o755); err != nil {
		return "", &zberrors.IoError{Op: "mkdir", Path: s.locksDir, Err: err}
	}

	lock, err := filelock.Acquire(s.lockPath(key))
	if err != nil {
		return "", &zberrors.IoError{Op: "lock", Path: s.lockPath(key), Err: err}
	}
	defer lock.Unlock()

	if _, err := os.Stat(s.completeMarker(key)); err == nil {
		return entryPath, nil
	}

	tmpDir := entryPath + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", &zberrors.IoError{Op: "mkdir", Path: tmpDir, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	format := archive.DetectFormat(blobPath)
	if format == archive.FormatUnknown {
		format = archive.FormatTarGz
	}
	if err := archive.Extract(blobPath, tmpDir, format); err != nil {
		return "", err
	}

	if err := postProcess(tmpDir); err != nil {
		return "", err
	}

	if err := os.Rename(tmpDir, entryPath); err != nil {
		return "", &zberrors.IoError{Op: "rename", Path: entryPath, Err: err}
	}

	marker, err := os.Create(s.completeMarker(key))
	if err != nil {
		return "", &zberrors.IoError{Op: "create", Path: s.completeMarker(key), Err: err}
	}
	marker.Close()

	return entryPath, nil
}

// Remove deletes a store entry and its completion marker. Only called by
// gc() once StoreRef has confirmed nothing references the key.
func (s *Store) Remove(key model.StoreKey) error {
	entryPath := s.EntryPath(key)
	if err := os.RemoveAll(entryPath); err != nil {
		return &zberrors.IoError{Op: "remove", Path: entryPath, Err: err}
	}
	if err := os.Remove(s.completeMarker(key)); err != nil && !os.IsNotExist(err) {
		return &zberrors.IoError{Op: "remove", Path: s.completeMarker(key), Err: err}
	}
	return nil
}

// Exists reports whether key has a complete store entry.
func (s *Store) Exists(key model.StoreKey) bool {
	_, err := os.Stat(s.completeMarker(key))
	return err == nil
}

// ListEntries returns every store key with a completed extraction on disk,
// regardless of whether anything still references it in StoreRef. gc()
// walks this list rather than StoreRef's rows so a directory orphaned by a
// row that dropped to zero and deleted itself is still found and reclaimed.
func (s *Store) ListEntries() ([]model.StoreKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &zberrors.IoError{Op: "readdir", Path: s.dir, Err: err}
	}

	var keys []model.StoreKey
	for _, entry := range entries {
		if !entry.IsDir() || strings.Contains(entry.Name(), ".tmp-") {
			continue
		}
		key := model.StoreKey(entry.Name())
		if s.Exists(key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
