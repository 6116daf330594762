// Package transport fetches CDR files from wherever the provider drops them.
// The real deployment uses FTP; the pipeline only sees the Fetcher interface
// and a local-directory implementation that resolves date-placeholder
// patterns against files already synced to the inbox.
package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Fetcher resolves a file pattern to local paths ready for ingestion. Date
// placeholders are the caller's business: expand them with ExpandPattern
// before fetching.
type Fetcher interface {
	Fetch(ctx context.Context, pattern string) ([]string, error)
}

// LocalFetcher matches patterns against a local inbox directory.
type LocalFetcher struct {
	dir string
}

// NewLocalFetcher creates a fetcher over the inbox directory.
func NewLocalFetcher(dir string) *LocalFetcher {
	return &LocalFetcher{dir: dir}
}

// Fetch globs the inbox. No matches is not an error; the caller decides
// whether an empty batch is a problem.
func (f *LocalFetcher) Fetch(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(f.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// ExpandPattern substitutes {YYYY} and {MM} date placeholders. Zero values
// default to the current date.
func ExpandPattern(pattern string, year, month int) string {
	now := time.Now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	out := strings.ReplaceAll(pattern, "{YYYY}", fmt.Sprintf("%04d", year))
	out = strings.ReplaceAll(out, "{MM}", fmt.Sprintf("%02d", month))
	return out
}

// MockFetcher returns a fixed file list; for tests.
type MockFetcher struct {
	Files []string
	Err   error
}

// Fetch returns the configured files or error.
func (m *MockFetcher) Fetch(_ context.Context, _ string) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Files, nil
}
