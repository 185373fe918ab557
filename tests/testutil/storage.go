package testutil

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/nhle/attachsync/internal/storage"
)

// MemoryBackend is an in-memory storage.Backend that records calls.
type MemoryBackend struct {
	mu      sync.Mutex
	files   map[string][]byte
	Writes  []string
	Renames [][2]string

	// WriteErr, when set, fails every Write.
	WriteErr error
}

var _ storage.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{files: map[string][]byte{}}
}

// File returns the stored content of name.
func (m *MemoryBackend) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// Put stores data under name without recording a write.
func (m *MemoryBackend) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = data
}

// Names returns every stored name, sorted.
func (m *MemoryBackend) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for n := range m.files {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Exists implements storage.Backend.
func (m *MemoryBackend) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok, nil
}

// Write implements storage.Backend.
func (m *MemoryBackend) Write(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return "", m.WriteErr
	}
	m.files[name] = slices.Clone(data)
	m.Writes = append(m.Writes, name)
	return name, nil
}

// Rename implements storage.Backend.
func (m *MemoryBackend) Rename(_ context.Context, oldPath, newPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[oldPath]
	if !ok {
		return "", fmt.Errorf("renaming %s: %w", oldPath, storage.ErrNotFound)
	}
	delete(m.files, oldPath)
	m.files[newPath] = data
	m.Renames = append(m.Renames, [2]string{oldPath, newPath})
	return newPath, nil
}

// Scan implements storage.Backend.
func (m *MemoryBackend) Scan(_ context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, name := range m.Names() {
			if pattern != "" && !strings.Contains(name, pattern) {
				continue
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}
