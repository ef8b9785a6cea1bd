// Package testutil provides shared helpers and upstream wire fixtures for
// tests that drive the pipeline against httptest servers.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/config"
)

// NewTestConfig returns the default config rooted in a per-test temp
// directory, so cache, sessions, and settings land under the test's own
// tree.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	return cfg
}

// NewTestArchive opens a throwaway SQLite archive that closes with the
// test.
func NewTestArchive(t *testing.T) *archive.Archive {
	t.Helper()
	arc, err := archive.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test archive: %v", err)
	}
	t.Cleanup(func() { arc.Close() })
	return arc
}
