// Package docstore is a small JSON document store with atomic writes and
// bounded backup retention. Every pipeline document (category table, contract
// registry, aggregates, reports) goes through it instead of ad hoc file
// copies in business logic.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/centralino/tariffa/internal/common"
)

// Store reads and writes JSON documents under a root directory.
type Store struct {
	root      string
	retention int
}

// New creates a store rooted at dir, keeping at most retention backups per
// document.
func New(dir string, retention int) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: docstore root", common.ErrInvalidConfig)
	}
	if retention <= 0 {
		retention = 5
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create docstore root: %w", err)
	}
	return &Store{root: dir, retention: retention}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Path resolves a document name to its absolute path.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Exists reports whether the named document is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Load unmarshals the named document into v. A missing document returns
// common.ErrNotFound; malformed JSON returns common.ErrDocumentCorrupted so
// callers can fail closed instead of silently dropping data.
func (s *Store) Load(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", common.ErrNotFound, name)
		}
		return fmt.Errorf("failed to read document %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrDocumentCorrupted, name, err)
	}
	return nil
}

// Save marshals v and writes it atomically: the previous version is first
// snapshotted to a timestamped backup, then the new content is written to a
// temp file and renamed over the document.
func (s *Store) Save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", name, err)
	}

	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	if err := s.backup(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document %s: %w", name, err)
	}

	slog.Debug("document saved", "name", name, "bytes", len(data))
	return nil
}

// Delete removes a document. Missing documents are not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete document %s: %w", name, err)
	}
	return nil
}

// List returns document names matching the glob pattern, relative to the
// store root.
func (s *Store) List(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(s.root, m)
		if err != nil {
			continue
		}
		if strings.HasSuffix(rel, ".bak") || strings.HasPrefix(filepath.Base(rel), ".") {
			continue
		}
		names = append(names, rel)
	}
	sort.Strings(names)
	return names, nil
}

// backup snapshots the current version of a document and prunes old backups
// beyond the retention limit, oldest first.
func (s *Store) backup(name string) error {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read document %s for backup: %w", name, err)
	}

	stamp := time.Now().Format("20060102-150405.000000000")
	bakName := fmt.Sprintf("%s.%s.bak", path, stamp)
	if err := os.WriteFile(bakName, data, 0o640); err != nil {
		return fmt.Errorf("failed to write backup of %s: %w", name, err)
	}

	backups, err := filepath.Glob(path + ".*.bak")
	if err != nil {
		return nil
	}
	sort.Strings(backups)
	for len(backups) > s.retention {
		if err := os.Remove(backups[0]); err != nil {
			slog.Warn("failed to prune backup", "file", backups[0], "error", err)
			break
		}
		backups = backups[1:]
	}
	return nil
}
