package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/internal/source"
	"github.com/nhle/attachsync/internal/storage"
	"github.com/nhle/attachsync/tests/testutil"
)

const (
	qSubject = "subject:invoice"
	qVendor  = "from:acme"
)

func fixtureSource() *testutil.FakeSource {
	src := testutil.NewFakeSource()
	src.Add(model.Email{
		ID:      "101",
		Date:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		From:    "Jane Doe <jane.doe@example.com>",
		Subject: "Invoice March",
		Attachments: []model.AttachmentMeta{
			{ID: "2", Filename: "invoice.pdf", MIMEType: "application/pdf"},
		},
	}, qSubject)
	src.Add(model.Email{
		ID:      "102",
		Date:    time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		From:    "billing@mail.acme.io",
		Subject: "Your receipt",
		Attachments: []model.AttachmentMeta{
			{ID: "2", Filename: "receipt.pdf", MIMEType: "application/pdf"},
			{ID: "3", Filename: "terms.pdf", MIMEType: "application/pdf"},
		},
	}, qSubject, qVendor)
	src.Add(model.Email{
		ID:      "103",
		Date:    time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC),
		From:    "noreply@acme.io",
		Subject: "Newsletter",
	}, qVendor)
	return src
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()
	backend := testutil.NewMemoryBackend()

	var events []Event
	cfg := FullSyncConfig{
		Source:     src,
		Filter:     testutil.Filter{qSubject, qVendor},
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		SourceName: "imap",
		OnProgress: func(ev Event) { events = append(events, ev) },
	}

	res, err := FullSync(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, src.Authorized)
	assert.Equal(t, []model.EmailID{"101", "102", "103"}, src.Fetched)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, []string{
		"2024-03-01 janedoe example invoice id_101 1_of_1 -- source__imap.pdf",
		"2024-03-02 acme receipt id_102 1_of_2 -- source__imap.pdf",
		"2024-03-02 acme terms id_102 2_of_2 -- source__imap.pdf",
	}, backend.Names())
	assert.True(t, src.DiscoverCalls[0].Since.IsZero())

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Kind)
	assert.Equal(t, 3, last.Result.Written)

	// A second full sync refetches everything but writes nothing.
	res, err = FullSync(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, src.Fetched, 6)
}

func TestFullSync_AuthErrorRunsNoStage(t *testing.T) {
	src := fixtureSource()
	src.AuthErr = &source.AuthError{SourceType: source.SourceTypeIMAP, Message: "no password"}

	_, err := FullSync(context.Background(), FullSyncConfig{
		Source:  src,
		Filter:  testutil.Filter{qSubject},
		Naming:  naming.InvoiceStrategy{},
		Storage: testutil.NewMemoryBackend(),
	})

	assert.True(t, source.IsAuthError(err))
	assert.Empty(t, src.DiscoverCalls)
}

func incrementalConfig(src *testutil.FakeSource, backend *testutil.MemoryBackend, t *testing.T) (IncrementalConfig, string) {
	c, dir := testutil.NewTestCache(t)
	return IncrementalConfig{
		Source:     src,
		Filter:     testutil.Filter{qSubject, qVendor},
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		Cache:      c,
		SourceName: "imap",
		Now:        func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) },
	}, dir
}

func TestIncremental_FirstRunMatchesFullSync(t *testing.T) {
	ctx := context.Background()

	fullSrc := fixtureSource()
	fullBackend := testutil.NewMemoryBackend()
	_, err := FullSync(ctx, FullSyncConfig{
		Source:     fullSrc,
		Filter:     testutil.Filter{qSubject, qVendor},
		Naming:     naming.InvoiceStrategy{},
		Storage:    fullBackend,
		SourceName: "imap",
	})
	require.NoError(t, err)

	incSrc := fixtureSource()
	incBackend := testutil.NewMemoryBackend()
	cfg, dir := incrementalConfig(incSrc, incBackend, t)

	res, err := Incremental(ctx, cfg)
	require.NoError(t, err)

	assert.True(t, incSrc.DiscoverCalls[0].Since.IsZero())
	assert.Equal(t, fullSrc.Fetched, incSrc.Fetched)
	assert.Equal(t, fullBackend.Names(), incBackend.Names())
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, 3, res.CachedEmails)
	// Each attachment is tracked; 103 has none.
	assert.Equal(t, 3, res.CachedFiles)

	reloaded := testutil.ReloadCache(t, dir)
	last, ok := reloaded.LastSync()
	require.True(t, ok)
	assert.True(t, cfg.Now().Equal(last))
	assert.Equal(t, 3, reloaded.EmailCount())

	path, ok := reloaded.FilePath("102", "2")
	require.True(t, ok)
	assert.Equal(t, "2024-03-02 acme receipt id_102 1_of_2 -- source__imap.pdf", path)
	path, ok = reloaded.FilePath("102", "3")
	require.True(t, ok)
	assert.Equal(t, "2024-03-02 acme terms id_102 2_of_2 -- source__imap.pdf", path)
}

func TestIncremental_SecondRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()
	backend := testutil.NewMemoryBackend()
	cfg, dir := incrementalConfig(src, backend, t)

	_, err := Incremental(ctx, cfg)
	require.NoError(t, err)
	first := testutil.ReloadCache(t, dir)

	cfg.Cache = testutil.ReloadCache(t, dir)
	cfg.Now = func() time.Time { return time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC) }
	res, err := Incremental(ctx, cfg)
	require.NoError(t, err)

	require.Len(t, src.DiscoverCalls, 2)
	assert.Equal(t, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), src.DiscoverCalls[1].Since)
	assert.Equal(t, 0, res.Written)

	second := testutil.ReloadCache(t, dir)
	assert.Equal(t, first.EmailCount(), second.EmailCount())
	assert.Equal(t, first.FileCount(), second.FileCount())
}

func TestIncremental_PicksUpNewEmails(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()
	backend := testutil.NewMemoryBackend()
	cfg, dir := incrementalConfig(src, backend, t)

	_, err := Incremental(ctx, cfg)
	require.NoError(t, err)

	src.Add(model.Email{
		ID:          "104",
		Date:        time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC),
		From:        "orders@globex.com",
		Subject:     "Invoice April",
		Attachments: []model.AttachmentMeta{{ID: "2", Filename: "april.pdf"}},
	}, qSubject)

	cfg.Cache = testutil.ReloadCache(t, dir)
	res, err := Incremental(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 4, res.CachedEmails)
	_, ok := backend.File("2024-03-07 globex april id_104 1_of_1 -- source__imap.pdf")
	assert.True(t, ok)
}

func TestIncremental_FailureKeepsPersistedCache(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()
	backend := testutil.NewMemoryBackend()
	cfg, dir := incrementalConfig(src, backend, t)

	backend.WriteErr = errors.New("disk full")
	_, err := Incremental(ctx, cfg)
	require.ErrorIs(t, err, backend.WriteErr)

	reloaded := testutil.ReloadCache(t, dir)
	_, ok := reloaded.LastSync()
	assert.False(t, ok)
	assert.Zero(t, reloaded.EmailCount())
}

func TestRename_EmptyCacheIsNoop(t *testing.T) {
	c, _ := testutil.NewTestCache(t)
	backend := testutil.NewMemoryBackend()

	res, err := Rename(context.Background(), RenameConfig{
		Naming:  naming.InvoiceStrategy{},
		Storage: backend,
		Cache:   c,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Renamed)
	assert.Empty(t, backend.Renames)
}

// upperStrategy renames everything with an "UPPER " prefix.
type upperStrategy struct{}

func (upperStrategy) Generate(ctx model.AttachmentContext) string {
	return "UPPER " + naming.InvoiceStrategy{}.Generate(ctx)
}

func TestRename_AppliesNewStrategy(t *testing.T) {
	ctx := context.Background()
	src := fixtureSource()
	backend := testutil.NewMemoryBackend()
	cfg, dir := incrementalConfig(src, backend, t)

	_, err := Incremental(ctx, cfg)
	require.NoError(t, err)
	fetchedBefore := len(src.Fetched)

	renameCfg := RenameConfig{
		Naming:     upperStrategy{},
		Storage:    backend,
		Cache:      testutil.ReloadCache(t, dir),
		SourceName: "imap",
	}
	res, err := Rename(ctx, renameCfg)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Renamed)
	assert.Equal(t, fetchedBefore, len(src.Fetched), "rename must not fetch")

	contents := map[string]string{
		"UPPER 2024-03-01 janedoe example invoice id_101 1_of_1 -- source__imap.pdf": "payload 101:2",
		"UPPER 2024-03-02 acme receipt id_102 1_of_2 -- source__imap.pdf":            "payload 102:2",
		"UPPER 2024-03-02 acme terms id_102 2_of_2 -- source__imap.pdf":              "payload 102:3",
	}
	assert.Len(t, backend.Names(), len(contents))
	for name, want := range contents {
		data, ok := backend.File(name)
		require.True(t, ok, name)
		assert.Equal(t, want, string(data), name)
	}

	reloaded := testutil.ReloadCache(t, dir)
	path, ok := reloaded.FilePath("101", "2")
	require.True(t, ok)
	assert.Equal(t, "UPPER 2024-03-01 janedoe example invoice id_101 1_of_1 -- source__imap.pdf", path)

	// Same strategy again: every name already matches.
	renameCfg.Cache = testutil.ReloadCache(t, dir)
	res, err = Rename(ctx, renameCfg)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Renamed)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, backend.Renames, 3)
}

// readDir returns the content of every file directly under dir.
func readDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err)
		files[entry.Name()] = string(data)
	}
	return files
}

func TestRename_UnchangedStrategyKeepsEveryFile(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	backend := storage.NewLocal(out)

	c, dir := testutil.NewTestCache(t)
	_, err := Incremental(ctx, IncrementalConfig{
		Source:     fixtureSource(),
		Filter:     testutil.Filter{qSubject, qVendor},
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		Cache:      c,
		SourceName: "imap",
	})
	require.NoError(t, err)
	before := readDir(t, out)
	require.Len(t, before, 3)

	res, err := Rename(ctx, RenameConfig{
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		Cache:      testutil.ReloadCache(t, dir),
		SourceName: "imap",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Renamed)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, before, readDir(t, out))
}

func TestRename_NeverReplacesAnotherFile(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	backend := storage.NewLocal(out)

	const (
		receipt = "2024-03-02 acme receipt id_102 1_of_2 -- source__imap.pdf"
		terms   = "2024-03-02 acme terms id_102 2_of_2 -- source__imap.pdf"
	)
	_, err := backend.Write(ctx, receipt, []byte("payload 102:2"))
	require.NoError(t, err)
	_, err = backend.Write(ctx, terms, []byte("payload 102:3"))
	require.NoError(t, err)

	// A cache that filed the terms document under the receipt's key.
	c, dir := testutil.NewTestCache(t)
	c.SetEmail(model.Email{
		ID:      "102",
		Date:    time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		From:    "billing@mail.acme.io",
		Subject: "Your receipt",
		Attachments: []model.AttachmentMeta{
			{ID: "2", Filename: "receipt.pdf", MIMEType: "application/pdf"},
			{ID: "3", Filename: "terms.pdf", MIMEType: "application/pdf"},
		},
	})
	c.SetFilePath("102", "2", terms)
	require.NoError(t, c.Flush(ctx))

	res, err := Rename(ctx, RenameConfig{
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		Cache:      testutil.ReloadCache(t, dir),
		SourceName: "imap",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Renamed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, map[string]string{
		receipt: "payload 102:2",
		terms:   "payload 102:3",
	}, readDir(t, out))
}
