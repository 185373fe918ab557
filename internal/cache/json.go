package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/attachsync/internal/model"
)

const (
	jsonFile    = "cache.json"
	jsonVersion = 1
)

// JSONPersister stores the cache as a versioned JSON document.
type JSONPersister struct {
	path string
}

var _ Persister = (*JSONPersister)(nil)

// NewJSONPersister returns a persister for <dir>/cache.json.
func NewJSONPersister(dir string) *JSONPersister {
	return &JSONPersister{path: filepath.Join(dir, jsonFile)}
}

// Path returns the JSON file path.
func (p *JSONPersister) Path() string {
	return p.path
}

type jsonRecord struct {
	Version  int                         `json:"version"`
	LastSync *string                     `json:"last_sync"`
	Emails   map[model.EmailID]jsonEmail `json:"emails"`
	Files    map[string]string           `json:"files"`
}

type jsonEmail struct {
	ID          model.EmailID          `json:"id"`
	Date        string                 `json:"date"`
	From        string                 `json:"from"`
	Subject     string                 `json:"subject"`
	Attachments []model.AttachmentMeta `json:"attachments"`
}

// Load implements Persister.
func (p *JSONPersister) Load(_ context.Context) (Record, error) {
	raw, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotExist
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading %s: %w", p.path, err)
	}

	var doc jsonRecord
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != jsonVersion {
		return Record{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}

	rec := NewRecord()
	rec.Version = doc.Version

	if doc.LastSync != nil {
		t, err := time.Parse(time.RFC3339Nano, *doc.LastSync)
		if err != nil {
			return Record{}, fmt.Errorf("%w: last_sync: %v", ErrCorrupt, err)
		}
		rec.LastSync = &t
	}

	for id, e := range doc.Emails {
		date, err := time.Parse(time.RFC3339Nano, e.Date)
		if err != nil {
			return Record{}, fmt.Errorf("%w: date of email %s: %v", ErrCorrupt, id, err)
		}
		rec.Emails[id] = model.Email{
			ID:          id,
			Date:        date,
			From:        e.From,
			Subject:     e.Subject,
			Attachments: e.Attachments,
		}
	}

	for k, v := range doc.Files {
		rec.Files[k] = v
	}

	return rec, nil
}

// Save implements Persister. The document is written to a temporary file
// and renamed over the previous one.
func (p *JSONPersister) Save(_ context.Context, rec Record) error {
	doc := jsonRecord{
		Version: jsonVersion,
		Emails:  make(map[model.EmailID]jsonEmail, len(rec.Emails)),
		Files:   rec.Files,
	}
	if doc.Files == nil {
		doc.Files = map[string]string{}
	}
	if rec.LastSync != nil {
		s := rec.LastSync.UTC().Format(time.RFC3339Nano)
		doc.LastSync = &s
	}
	for id, e := range rec.Emails {
		doc.Emails[id] = jsonEmail{
			ID:          e.ID,
			Date:        e.Date.UTC().Format(time.RFC3339Nano),
			From:        e.From,
			Subject:     e.Subject,
			Attachments: e.Attachments,
		}
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replacing %s: %w", p.path, err)
	}

	return nil
}

// NewPersister returns the persister for format ("sqlite" or "json")
// rooted at dir.
func NewPersister(format, dir string) (Persister, error) {
	switch format {
	case "", "sqlite":
		return NewSQLitePersister(dir), nil
	case "json":
		return NewJSONPersister(dir), nil
	default:
		return nil, fmt.Errorf("unknown cache format %q", format)
	}
}
