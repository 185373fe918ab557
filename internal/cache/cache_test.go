package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/attachsync/internal/model"
)

func sampleEmail(id string) model.Email {
	return model.Email{
		ID:      model.EmailID(id),
		Date:    time.Date(2024, 3, 9, 10, 30, 15, 0, time.UTC),
		From:    "Jane Doe <jane.doe@example.com>",
		Subject: "Invoice " + id,
		Attachments: []model.AttachmentMeta{
			{ID: "2", Filename: "invoice.pdf", MIMEType: "application/pdf"},
			{ID: "3", Filename: "receipt.png", MIMEType: "image/png"},
		},
	}
}

// countingPersister records Save calls and keeps the last record.
type countingPersister struct {
	rec     *Record
	saves   int
	loadErr error
}

func (p *countingPersister) Load(context.Context) (Record, error) {
	if p.loadErr != nil {
		return Record{}, p.loadErr
	}
	if p.rec == nil {
		return Record{}, ErrNotExist
	}
	return *p.rec, nil
}

func (p *countingPersister) Save(_ context.Context, rec Record) error {
	p.saves++
	p.rec = &rec
	return nil
}

func persisters(t *testing.T) map[string]func(dir string) Persister {
	t.Helper()
	return map[string]func(dir string) Persister{
		"sqlite": func(dir string) Persister { return NewSQLitePersister(dir) },
		"json":   func(dir string) Persister { return NewJSONPersister(dir) },
	}
}

func TestCache_RoundTrip(t *testing.T) {
	for name, newPersister := range persisters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), ".attachsync")

			c := New(newPersister(dir), nil)
			require.NoError(t, c.Load(ctx))

			e := sampleEmail("118")
			bare := model.Email{ID: "7", Date: time.Date(2023, 12, 31, 23, 59, 59, 500, time.UTC)}
			last := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

			c.SetEmail(e)
			c.SetEmail(bare)
			c.SetFilePath("118", "2", "2024-03-09 janedoe example invoice.pdf")
			c.SetLastSync(last)
			require.NoError(t, c.Flush(ctx))

			reloaded := New(newPersister(dir), nil)
			require.NoError(t, reloaded.Load(ctx))

			got, ok := reloaded.Email("118")
			require.True(t, ok)
			assert.Equal(t, e, got)
			assert.True(t, e.Date.Equal(got.Date))

			gotBare, ok := reloaded.Email("7")
			require.True(t, ok)
			assert.Equal(t, bare, gotBare)

			path, ok := reloaded.FilePath("118", "2")
			require.True(t, ok)
			assert.Equal(t, "2024-03-09 janedoe example invoice.pdf", path)

			gotLast, ok := reloaded.LastSync()
			require.True(t, ok)
			assert.True(t, last.Equal(gotLast))

			assert.Equal(t, 2, reloaded.EmailCount())
			assert.Equal(t, 1, reloaded.FileCount())
			assert.False(t, reloaded.Dirty())
		})
	}
}

func TestCache_MissingStartsEmpty(t *testing.T) {
	for name, newPersister := range persisters(t) {
		t.Run(name, func(t *testing.T) {
			c := New(newPersister(t.TempDir()), nil)
			require.NoError(t, c.Load(context.Background()))

			_, ok := c.LastSync()
			assert.False(t, ok)
			assert.Zero(t, c.EmailCount())
			assert.Zero(t, c.FileCount())
		})
	}
}

func TestCache_CorruptResetsAndRecovers(t *testing.T) {
	files := map[string]string{"sqlite": sqliteFile, "json": jsonFile}

	for name, newPersister := range persisters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			garbage := strings.Repeat("this is not a cache file\n", 40)
			require.NoError(t, os.WriteFile(filepath.Join(dir, files[name]), []byte(garbage), 0o644))

			c := New(newPersister(dir), nil)
			require.NoError(t, c.Load(ctx))
			assert.Zero(t, c.EmailCount())

			c.SetEmail(sampleEmail("1"))
			require.NoError(t, c.Flush(ctx))

			reloaded := New(newPersister(dir), nil)
			require.NoError(t, reloaded.Load(ctx))
			assert.Equal(t, 1, reloaded.EmailCount())
		})
	}
}

func TestJSONPersister_RejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, jsonFile),
		[]byte(`{"version": 99, "emails": {}, "files": {}}`),
		0o644,
	))

	_, err := NewJSONPersister(dir).Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLitePersister_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewSQLitePersister(dir)
	require.NoError(t, p.Save(ctx, NewRecord()))

	db, _, err := openDB(ctx, p.Path())
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = p.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLitePersister_UnexpectedLayoutIsCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := NewSQLitePersister(dir)

	db, err := sqlx.Open("sqlite", p.Path())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE emails (id TEXT PRIMARY KEY, date TEXT NOT NULL)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = p.Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	c := New(p, nil)
	require.NoError(t, c.Load(ctx))
	assert.Zero(t, c.EmailCount())
}

func TestCache_FlushOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	p := &countingPersister{}
	c := New(p, nil)
	require.NoError(t, c.Load(ctx))

	require.NoError(t, c.Flush(ctx))
	assert.Zero(t, p.saves)

	c.SetEmail(sampleEmail("1"))
	assert.True(t, c.Dirty())
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 1, p.saves)
	assert.False(t, c.Dirty())

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 1, p.saves)

	c.SetFilePath("1", "2", "a.pdf")
	require.NoError(t, c.Flush(ctx))
	c.SetLastSync(time.Now())
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 3, p.saves)
}

func TestCache_LoadPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	c := New(&countingPersister{loadErr: boom}, nil)

	err := c.Load(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCache_SetEmailOverwrites(t *testing.T) {
	c := New(&countingPersister{}, nil)

	e := sampleEmail("1")
	c.SetEmail(e)
	e.Subject = "updated"
	e.Attachments = e.Attachments[:1]
	c.SetEmail(e)

	got, ok := c.Email("1")
	require.True(t, ok)
	assert.Equal(t, "updated", got.Subject)
	assert.Len(t, got.Attachments, 1)
	assert.Equal(t, 1, c.EmailCount())
}

func TestCache_FilePathsOrdered(t *testing.T) {
	c := New(&countingPersister{}, nil)
	c.SetFilePath("2", "1", "b.pdf")
	c.SetFilePath("1", "2.1", "a.pdf")
	c.SetFilePath("1", "2.1", "a2.pdf")

	assert.Equal(t, []FileEntry{
		{EmailID: "1", AttachmentID: "2.1", Path: "a2.pdf"},
		{EmailID: "2", AttachmentID: "1", Path: "b.pdf"},
	}, c.FilePaths())
}

func TestFileKey(t *testing.T) {
	key := FileKey("118", "2.1")
	assert.Equal(t, "118:2.1", key)

	id, att := SplitFileKey(key)
	assert.Equal(t, model.EmailID("118"), id)
	assert.Equal(t, "2.1", att)
}

func TestNewPersister(t *testing.T) {
	p, err := NewPersister("json", "/tmp/x")
	require.NoError(t, err)
	assert.IsType(t, &JSONPersister{}, p)

	p, err = NewPersister("", "/tmp/x")
	require.NoError(t, err)
	assert.IsType(t, &SQLitePersister{}, p)

	_, err = NewPersister("yaml", "/tmp/x")
	assert.Error(t, err)
}
