package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nhle/attachsync/internal/cache"
)

// NewTestCache creates a loaded, empty cache persisted to SQLite in a
// temporary directory. The directory is returned so tests can reopen it.
func NewTestCache(t *testing.T) (*cache.Cache, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), ".attachsync")
	c := cache.New(cache.NewSQLitePersister(dir), nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("loading test cache: %v", err)
	}

	return c, dir
}

// ReloadCache opens a fresh cache over dir and loads it.
func ReloadCache(t *testing.T, dir string) *cache.Cache {
	t.Helper()

	c := cache.New(cache.NewSQLitePersister(dir), nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("reloading test cache: %v", err)
	}

	return c
}
