// Package storage persists named attachments. Paths returned by a
// Backend are relative to the backend's root and can be passed back to
// Exists and Rename.
package storage

import (
	"context"
	"errors"
	"iter"
)

// ErrNotFound is returned when a rename source does not exist.
var ErrNotFound = errors.New("stored file not found")

// Backend is the storage capability used by the store and rename stages.
type Backend interface {
	// Exists reports whether a file is stored under name.
	Exists(ctx context.Context, name string) (bool, error)

	// Write stores data under name and returns its path.
	Write(ctx context.Context, name string, data []byte) (string, error)

	// Rename moves oldPath to newPath and returns the new path.
	Rename(ctx context.Context, oldPath, newPath string) (string, error)

	// Scan yields the stored paths containing pattern, or every path
	// when pattern is empty.
	Scan(ctx context.Context, pattern string) iter.Seq2[string, error]
}
