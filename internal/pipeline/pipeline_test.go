package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/tests/testutil"
)

func email(id string, attachments ...string) model.Email {
	e := model.Email{
		ID:      model.EmailID(id),
		Date:    time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
		From:    "billing@acme.io",
		Subject: "Invoice " + id,
	}
	for i, name := range attachments {
		e.Attachments = append(e.Attachments, model.AttachmentMeta{
			ID:       fmt.Sprintf("%d", i+2),
			Filename: name,
			MIMEType: "application/pdf",
		})
	}
	return e
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func idSeq(ids ...model.EmailID) iter.Seq2[model.EmailID, error] {
	return func(yield func(model.EmailID, error) bool) {
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func TestDiscover_Deduplicates(t *testing.T) {
	src := testutil.NewFakeSource()
	src.Add(email("1"), "q1")
	src.Add(email("2"), "q1", "q2")
	src.Add(email("3"), "q2")

	var events []string
	var discovered []model.EmailID
	obs := &DiscoverHooks{
		Hooks: Hooks[model.EmailID]{
			OnItem: func(_ context.Context, id model.EmailID) error {
				events = append(events, "item "+string(id))
				return nil
			},
			OnComplete: func(context.Context) error {
				events = append(events, "complete")
				return nil
			},
		},
		OnDiscovered: func(_ context.Context, ids []model.EmailID) error {
			events = append(events, "discovered")
			discovered = ids
			return nil
		},
	}

	var got []model.EmailID
	for id, err := range Discover(context.Background(), src, testutil.Filter{"q1", "q2"}, DiscoverOptions{Observer: obs}) {
		require.NoError(t, err)
		events = append(events, "yield "+string(id))
		got = append(got, id)
	}

	assert.Equal(t, []model.EmailID{"1", "2", "3"}, got)
	assert.Equal(t, []model.EmailID{"1", "2", "3"}, discovered)
	assert.Equal(t, []string{
		"item 1", "yield 1",
		"item 2", "yield 2",
		"item 3", "yield 3",
		"discovered", "complete",
	}, events)
}

func TestDiscover_PassesSince(t *testing.T) {
	src := testutil.NewFakeSource()
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	collect(t, Discover(context.Background(), src, testutil.Filter{"q"}, DiscoverOptions{Since: since}))

	require.Len(t, src.DiscoverCalls, 1)
	assert.Equal(t, since, src.DiscoverCalls[0].Since)
}

func TestDiscover_HookErrorAborts(t *testing.T) {
	src := testutil.NewFakeSource()
	src.Add(email("1"), "q")
	src.Add(email("2"), "q")
	boom := errors.New("boom")

	obs := &DiscoverHooks{Hooks: Hooks[model.EmailID]{
		OnItem: func(context.Context, model.EmailID) error { return boom },
	}}

	var errs []error
	var got []model.EmailID
	for id, err := range Discover(context.Background(), src, testutil.Filter{"q"}, DiscoverOptions{Observer: obs}) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, id)
	}
	assert.Empty(t, got)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestFetch_Batches(t *testing.T) {
	src := testutil.NewFakeSource()
	for i := 1; i <= 5; i++ {
		src.Add(email(fmt.Sprint(i)))
	}

	var items []model.EmailID
	var batches [][]model.EmailID
	var remaining []model.Email
	completed := 0
	obs := &FetchHooks{
		Hooks: Hooks[model.Email]{
			OnItem: func(_ context.Context, e model.Email) error {
				items = append(items, e.ID)
				return nil
			},
			OnBatch: func(_ context.Context, es []model.Email) error {
				var ids []model.EmailID
				for _, e := range es {
					ids = append(ids, e.ID)
				}
				batches = append(batches, ids)
				return nil
			},
			OnComplete: func(context.Context) error {
				completed++
				return nil
			},
		},
		OnCacheUpdate: func(_ context.Context, es []model.Email) error {
			remaining = es
			return nil
		},
	}

	got := collect(t, Fetch(context.Background(), src, idSeq("1", "2", "3", "4", "5"), FetchOptions{
		BatchSize: 2,
		Observer:  obs,
	}))

	assert.Len(t, got, 5)
	assert.Equal(t, []model.EmailID{"1", "2", "3", "4", "5"}, items)
	assert.Equal(t, [][]model.EmailID{{"1", "2"}, {"3", "4"}, {"5"}}, batches)
	require.Len(t, remaining, 1, "cache update only sees the trailing batch")
	assert.Equal(t, model.EmailID("5"), remaining[0].ID)
	assert.Equal(t, 1, completed)
}

func TestFetch_ExactMultipleHasEmptyRemainder(t *testing.T) {
	src := testutil.NewFakeSource()
	src.Add(email("1"))
	src.Add(email("2"))

	batchCalls := 0
	var remaining []model.Email
	cacheCalled := false
	obs := &FetchHooks{
		Hooks: Hooks[model.Email]{
			OnBatch: func(context.Context, []model.Email) error {
				batchCalls++
				return nil
			},
		},
		OnCacheUpdate: func(_ context.Context, es []model.Email) error {
			cacheCalled = true
			remaining = es
			return nil
		},
	}

	collect(t, Fetch(context.Background(), src, idSeq("1", "2"), FetchOptions{BatchSize: 2, Observer: obs}))

	assert.Equal(t, 1, batchCalls)
	assert.True(t, cacheCalled)
	assert.Empty(t, remaining)
}

func TestFetch_IsLazy(t *testing.T) {
	src := testutil.NewFakeSource()
	for i := 1; i <= 3; i++ {
		src.Add(email(fmt.Sprint(i)))
	}

	for e, err := range Fetch(context.Background(), src, idSeq("1", "2", "3"), FetchOptions{}) {
		require.NoError(t, err)
		assert.Equal(t, model.EmailID("1"), e.ID)
		break
	}
	assert.Equal(t, []model.EmailID{"1"}, src.Fetched)
}

func TestFetch_PropagatesSourceError(t *testing.T) {
	src := testutil.NewFakeSource()

	var errs []error
	for _, err := range Fetch(context.Background(), src, idSeq("missing"), FetchOptions{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func emailSeq(emails ...model.Email) iter.Seq2[model.Email, error] {
	return func(yield func(model.Email, error) bool) {
		for _, e := range emails {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func TestDownload_ExpandsAttachments(t *testing.T) {
	src := testutil.NewFakeSource()
	a := email("1", "a.pdf", "b.pdf")
	b := email("2")
	c := email("3", "c.pdf")
	src.Add(a)
	src.Add(b)
	src.Add(c)

	var progress [][2]int
	obs := &DownloadHooks{OnProgress: func(downloaded, total int) {
		progress = append(progress, [2]int{downloaded, total})
	}}

	got := collect(t, Download(context.Background(), src, emailSeq(a, b, c), DownloadOptions{Observer: obs}))

	require.Len(t, got, 3)
	assert.Equal(t, "a.pdf", got[0].Attachment.Filename)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[0].Total)
	assert.Equal(t, src.Payload("1", "2"), got[0].Attachment.Data)
	assert.Equal(t, "b.pdf", got[1].Attachment.Filename)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, "c.pdf", got[2].Attachment.Filename)
	assert.Equal(t, 1, got[2].Index)
	assert.Equal(t, 1, got[2].Total)

	assert.Equal(t, [][2]int{{1, UnknownTotal}, {2, UnknownTotal}, {3, UnknownTotal}}, progress)
}

func TestDownload_ErrorAborts(t *testing.T) {
	src := testutil.NewFakeSource()
	a := email("1", "a.pdf")
	src.Add(a)
	src.DownloadErr = errors.New("gone")

	var errs []error
	for _, err := range Download(context.Background(), src, emailSeq(a, a), DownloadOptions{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], src.DownloadErr)
}

func namedSeq(items ...model.NamedAttachment) iter.Seq2[model.NamedAttachment, error] {
	return func(yield func(model.NamedAttachment, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

func named(e model.Email, name string, data string) model.NamedAttachment {
	return model.NamedAttachment{
		AttachmentContext: model.AttachmentContext{
			Email: e,
			Attachment: model.Attachment{
				AttachmentMeta: e.Attachments[0],
				Data:           []byte(data),
			},
			Index: 1,
			Total: len(e.Attachments),
		},
		GeneratedName: name,
	}
}

func TestName_SetsSourceAndName(t *testing.T) {
	src := testutil.NewFakeSource()
	e := email("118", "invoice.pdf")
	src.Add(e)

	downloads := Download(context.Background(), src, emailSeq(e), DownloadOptions{})
	got := collect(t, Name(downloads, naming.InvoiceStrategy{}, "imap"))

	require.Len(t, got, 1)
	assert.Equal(t, "imap", got[0].Source)
	assert.Equal(t, "2024-03-09 acme invoice id_118 1_of_1 -- source__imap.pdf", got[0].GeneratedName)
}

func TestStore_WrittenThenSkipped(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	e := email("1", "a.pdf")

	var stored []model.StoredFile
	obs := &StoreHooks{OnStored: func(_ context.Context, f model.StoredFile, owner model.Email) error {
		assert.Equal(t, e.ID, owner.ID)
		stored = append(stored, f)
		return nil
	}}

	got := collect(t, Store(context.Background(), backend, namedSeq(
		named(e, "x.pdf", "first"),
		named(e, "x.pdf", "second"),
	), StoreOptions{Observer: obs}))

	assert.Equal(t, []model.StoredFile{
		{Path: "x.pdf", Status: model.StatusWritten, AttachmentID: "2"},
		{Path: "x.pdf", Status: model.StatusSkipped, AttachmentID: "2"},
	}, got)
	assert.Equal(t, got, stored)

	data, ok := backend.File("x.pdf")
	require.True(t, ok)
	assert.Equal(t, "first", string(data))
	assert.Equal(t, []string{"x.pdf"}, backend.Writes)
}

func TestStore_WriteErrorAborts(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.WriteErr = errors.New("disk full")
	e := email("1", "a.pdf")

	var errs []error
	for _, err := range Store(context.Background(), backend, namedSeq(named(e, "x.pdf", "d"), named(e, "y.pdf", "d")), StoreOptions{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], backend.WriteErr)
}

func renameSeq(items ...RenameItem) iter.Seq2[RenameItem, error] {
	return func(yield func(RenameItem, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

func TestRename(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Put("old.pdf", []byte("x"))
	backend.Put("same.pdf", []byte("y"))
	e := email("1", "a.pdf")

	var renamed [][2]string
	items := 0
	obs := &RenameHooks{
		Hooks: Hooks[model.StoredFile]{OnItem: func(context.Context, model.StoredFile) error {
			items++
			return nil
		}},
		OnRenamed: func(_ context.Context, item RenameItem, newPath string) error {
			assert.Equal(t, "2", item.AttachmentID)
			renamed = append(renamed, [2]string{item.OldPath, newPath})
			return nil
		},
	}

	got := collect(t, Rename(context.Background(), backend, renameSeq(
		RenameItem{OldPath: "same.pdf", NewName: "same.pdf", AttachmentID: "2", Email: e},
		RenameItem{OldPath: "old.pdf", NewName: "new.pdf", AttachmentID: "2", Email: e},
	), RenameOptions{Observer: obs}))

	assert.Equal(t, []model.StoredFile{
		{Path: "same.pdf", Status: model.StatusSkipped, AttachmentID: "2"},
		{Path: "new.pdf", Status: model.StatusRenamed, AttachmentID: "2"},
	}, got)
	assert.Equal(t, [][2]string{{"old.pdf", "new.pdf"}}, renamed)
	assert.Equal(t, [][2]string{{"old.pdf", "new.pdf"}}, backend.Renames, "no backend call for the no-op")
	assert.Equal(t, 2, items)
}

func TestRename_TakenNameIsSkipped(t *testing.T) {
	backend := testutil.NewMemoryBackend()
	backend.Put("receipt.pdf", []byte("receipt"))
	backend.Put("terms.pdf", []byte("terms"))
	e := email("1", "receipt.pdf", "terms.pdf")

	renamed := 0
	obs := &RenameHooks{OnRenamed: func(context.Context, RenameItem, string) error {
		renamed++
		return nil
	}}

	got := collect(t, Rename(context.Background(), backend, renameSeq(
		RenameItem{OldPath: "terms.pdf", NewName: "receipt.pdf", AttachmentID: "2", Email: e},
	), RenameOptions{Observer: obs}))

	assert.Equal(t, []model.StoredFile{
		{Path: "terms.pdf", Status: model.StatusSkipped, AttachmentID: "2"},
	}, got)
	assert.Zero(t, renamed)
	assert.Empty(t, backend.Renames)

	data, ok := backend.File("receipt.pdf")
	require.True(t, ok)
	assert.Equal(t, "receipt", string(data))
	data, ok = backend.File("terms.pdf")
	require.True(t, ok)
	assert.Equal(t, "terms", string(data))
}

func TestRename_MissingFileAborts(t *testing.T) {
	backend := testutil.NewMemoryBackend()

	var errs []error
	for _, err := range Rename(context.Background(), backend, renameSeq(
		RenameItem{OldPath: "gone.pdf", NewName: "new.pdf"},
	), RenameOptions{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Error(t, errs[0])
}

func TestHooks_NilSafe(t *testing.T) {
	var h *Hooks[int]
	ctx := context.Background()
	assert.NoError(t, h.Item(ctx, 1))
	assert.NoError(t, h.Batch(ctx, []int{1}))
	assert.NoError(t, h.Complete(ctx))

	var d *DownloadHooks
	assert.NotPanics(t, func() { d.Progress(1, UnknownTotal) })
}
