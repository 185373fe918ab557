// Package cache keeps sync state across runs: the last successful sync
// time, the metadata of every fetched email, and where each attachment
// was stored. State is mutated in memory and persisted only on Flush.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/model"
)

var (
	// ErrNotExist is returned by a Persister when nothing has been saved yet.
	ErrNotExist = errors.New("cache does not exist")

	// ErrCorrupt is returned by a Persister when the saved state cannot be
	// read or has an unsupported version.
	ErrCorrupt = errors.New("cache is corrupt")
)

// Record is the persisted form of the cache.
type Record struct {
	// Version is the on-disk format version the record was read from.
	Version  int
	LastSync *time.Time
	Emails   map[model.EmailID]model.Email

	// Files maps FileKey(emailID, attachmentID) to a stored path.
	Files map[string]string
}

// NewRecord returns an empty record.
func NewRecord() Record {
	return Record{
		Emails: make(map[model.EmailID]model.Email),
		Files:  make(map[string]string),
	}
}

// FileKey builds the composite "emailId:attachmentId" key.
func FileKey(emailID model.EmailID, attachmentID string) string {
	return string(emailID) + ":" + attachmentID
}

// SplitFileKey is the inverse of FileKey.
func SplitFileKey(key string) (model.EmailID, string) {
	emailID, attachmentID, _ := strings.Cut(key, ":")
	return model.EmailID(emailID), attachmentID
}

// FileEntry is one tracked attachment path.
type FileEntry struct {
	EmailID      model.EmailID
	AttachmentID string
	Path         string
}

// Persister loads and saves a Record.
type Persister interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// Cache is the in-memory sync state. It is not safe for concurrent use;
// a single pipeline run owns it.
type Cache struct {
	persister Persister
	logger    *zap.Logger

	rec   Record
	dirty bool
}

// New returns an empty cache backed by persister.
func New(persister Persister, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		persister: persister,
		logger:    logger,
		rec:       NewRecord(),
	}
}

// Load replaces the in-memory state with the persisted one. Missing or
// corrupt state resets the cache to empty and is not an error.
func (c *Cache) Load(ctx context.Context) error {
	rec, err := c.persister.Load(ctx)
	switch {
	case errors.Is(err, ErrNotExist):
		c.logger.Debug("no cache found, starting fresh")
		rec = NewRecord()
	case errors.Is(err, ErrCorrupt):
		c.logger.Warn("cache unreadable, starting fresh", zap.Error(err))
		rec = NewRecord()
	case err != nil:
		return fmt.Errorf("loading cache: %w", err)
	}

	if rec.Emails == nil {
		rec.Emails = make(map[model.EmailID]model.Email)
	}
	if rec.Files == nil {
		rec.Files = make(map[string]string)
	}

	c.rec = rec
	c.dirty = false
	return nil
}

// Flush persists the state if it changed since the last Load or Flush.
func (c *Cache) Flush(ctx context.Context) error {
	if !c.dirty {
		return nil
	}
	if err := c.persister.Save(ctx, c.rec); err != nil {
		return fmt.Errorf("flushing cache: %w", err)
	}
	c.dirty = false
	return nil
}

// Dirty reports whether there are unflushed changes.
func (c *Cache) Dirty() bool {
	return c.dirty
}

// LastSync returns the time of the last completed sync, if any.
func (c *Cache) LastSync() (time.Time, bool) {
	if c.rec.LastSync == nil {
		return time.Time{}, false
	}
	return *c.rec.LastSync, true
}

// SetLastSync records t as the last completed sync.
func (c *Cache) SetLastSync(t time.Time) {
	t = t.UTC()
	c.rec.LastSync = &t
	c.dirty = true
}

// Email returns the cached metadata for id.
func (c *Cache) Email(id model.EmailID) (model.Email, bool) {
	e, ok := c.rec.Emails[id]
	return e, ok
}

// SetEmail stores or replaces the metadata for e.ID.
func (c *Cache) SetEmail(e model.Email) {
	e.Date = e.Date.UTC()
	e.Attachments = slices.Clone(e.Attachments)
	c.rec.Emails[e.ID] = e
	c.dirty = true
}

// Emails returns every cached email ordered by id.
func (c *Cache) Emails() []model.Email {
	out := make([]model.Email, 0, len(c.rec.Emails))
	for _, e := range c.rec.Emails {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b model.Email) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

// FilePath returns the stored path of an attachment.
func (c *Cache) FilePath(emailID model.EmailID, attachmentID string) (string, bool) {
	p, ok := c.rec.Files[FileKey(emailID, attachmentID)]
	return p, ok
}

// SetFilePath records the stored path of an attachment, replacing any
// previous one.
func (c *Cache) SetFilePath(emailID model.EmailID, attachmentID, path string) {
	c.rec.Files[FileKey(emailID, attachmentID)] = path
	c.dirty = true
}

// FilePaths returns every tracked path ordered by key.
func (c *Cache) FilePaths() []FileEntry {
	keys := make([]string, 0, len(c.rec.Files))
	for k := range c.rec.Files {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]FileEntry, 0, len(keys))
	for _, k := range keys {
		emailID, attachmentID := SplitFileKey(k)
		out = append(out, FileEntry{
			EmailID:      emailID,
			AttachmentID: attachmentID,
			Path:         c.rec.Files[k],
		})
	}
	return out
}

// EmailCount returns the number of cached emails.
func (c *Cache) EmailCount() int {
	return len(c.rec.Emails)
}

// FileCount returns the number of tracked files.
func (c *Cache) FileCount() int {
	return len(c.rec.Files)
}
