package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Local stores attachments as files in a directory.
type Local struct {
	root string
}

var _ Backend = (*Local)(nil)

// NewLocal returns a Local backend rooted at dir. The directory is
// created on first write.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Root returns the backend's root directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("invalid storage name %q", name)
	}
	return filepath.Join(l.root, name), nil
}

// Exists implements Backend.
func (l *Local) Exists(_ context.Context, name string) (bool, error) {
	full, err := l.resolve(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return true, nil
}

// Write implements Backend. Data goes to a temporary file in the same
// directory which is then renamed into place, so an interrupted write
// never leaves a partial file under name.
func (l *Local) Write(_ context.Context, name string, data []byte) (string, error) {
	full, err := l.resolve(name)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("setting mode on %s: %w", name, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return "", fmt.Errorf("moving %s into place: %w", name, err)
	}

	return name, nil
}

// Rename implements Backend.
func (l *Local) Rename(_ context.Context, oldPath, newPath string) (string, error) {
	from, err := l.resolve(oldPath)
	if err != nil {
		return "", err
	}
	to, err := l.resolve(newPath)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("renaming %s: %w", oldPath, ErrNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", newPath, err)
	}
	if err := os.Rename(from, to); err != nil {
		return "", fmt.Errorf("renaming %s to %s: %w", oldPath, newPath, err)
	}

	return newPath, nil
}

// Scan implements Backend. Hidden files and directories, which hold the
// sync cache and in-flight writes, are skipped.
func (l *Local) Scan(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if _, err := os.Stat(l.root); errors.Is(err, fs.ErrNotExist) {
			return
		}

		stop := errors.New("stop")
		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == l.root {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(l.root, path)
			if err != nil {
				return err
			}
			if pattern != "" && !strings.Contains(rel, pattern) {
				return nil
			}
			if !yield(rel, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield("", fmt.Errorf("scanning %s: %w", l.root, err))
		}
	}
}
