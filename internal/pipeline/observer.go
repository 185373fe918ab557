// Package pipeline implements the lazy stages that move attachments from
// a mailbox to storage: Discover, Fetch, Download, Name, Store and
// Rename. Each stage pulls from its upstream sequence one item at a
// time, so memory stays bounded by the fetch batch size.
//
// Stages report side effects to an observer. For every item the
// observer's Item method runs before the item is yielded downstream; an
// observer error ends the stage with that error.
package pipeline

import (
	"context"

	"github.com/nhle/attachsync/internal/model"
)

// Observer receives the generic stage notifications.
type Observer[T any] interface {
	Item(ctx context.Context, item T) error
	Batch(ctx context.Context, items []T) error
	Complete(ctx context.Context) error
}

// Hooks implements Observer[T] from optional functions. A nil field is a
// no-op.
type Hooks[T any] struct {
	OnItem     func(ctx context.Context, item T) error
	OnBatch    func(ctx context.Context, items []T) error
	OnComplete func(ctx context.Context) error
}

// Item implements Observer.
func (h *Hooks[T]) Item(ctx context.Context, item T) error {
	if h == nil || h.OnItem == nil {
		return nil
	}
	return h.OnItem(ctx, item)
}

// Batch implements Observer.
func (h *Hooks[T]) Batch(ctx context.Context, items []T) error {
	if h == nil || h.OnBatch == nil {
		return nil
	}
	return h.OnBatch(ctx, items)
}

// Complete implements Observer.
func (h *Hooks[T]) Complete(ctx context.Context) error {
	if h == nil || h.OnComplete == nil {
		return nil
	}
	return h.OnComplete(ctx)
}

// DiscoverObserver is notified once with every distinct id discovered.
type DiscoverObserver interface {
	Observer[model.EmailID]
	Discovered(ctx context.Context, ids []model.EmailID) error
}

// DiscoverHooks implements DiscoverObserver.
type DiscoverHooks struct {
	Hooks[model.EmailID]
	OnDiscovered func(ctx context.Context, ids []model.EmailID) error
}

// Discovered implements DiscoverObserver.
func (h *DiscoverHooks) Discovered(ctx context.Context, ids []model.EmailID) error {
	if h == nil || h.OnDiscovered == nil {
		return nil
	}
	return h.OnDiscovered(ctx, ids)
}

// FetchObserver receives the emails left in the batch buffer when the
// fetch stage finishes.
type FetchObserver interface {
	Observer[model.Email]
	CacheUpdate(ctx context.Context, remaining []model.Email) error
}

// FetchHooks implements FetchObserver.
type FetchHooks struct {
	Hooks[model.Email]
	OnCacheUpdate func(ctx context.Context, remaining []model.Email) error
}

// CacheUpdate implements FetchObserver.
func (h *FetchHooks) CacheUpdate(ctx context.Context, remaining []model.Email) error {
	if h == nil || h.OnCacheUpdate == nil {
		return nil
	}
	return h.OnCacheUpdate(ctx, remaining)
}

// UnknownTotal is reported as the total while the overall attachment
// count is not yet known.
const UnknownTotal = -1

// DownloadObserver receives a running count of downloaded attachments.
type DownloadObserver interface {
	Observer[model.AttachmentContext]
	Progress(downloaded, total int)
}

// DownloadHooks implements DownloadObserver.
type DownloadHooks struct {
	Hooks[model.AttachmentContext]
	OnProgress func(downloaded, total int)
}

// Progress implements DownloadObserver.
func (h *DownloadHooks) Progress(downloaded, total int) {
	if h == nil || h.OnProgress == nil {
		return
	}
	h.OnProgress(downloaded, total)
}

// StoreObserver is told where each attachment ended up, whatever the
// status.
type StoreObserver interface {
	Observer[model.StoredFile]
	Stored(ctx context.Context, file model.StoredFile, email model.Email) error
}

// StoreHooks implements StoreObserver.
type StoreHooks struct {
	Hooks[model.StoredFile]
	OnStored func(ctx context.Context, file model.StoredFile, email model.Email) error
}

// Stored implements StoreObserver.
func (h *StoreHooks) Stored(ctx context.Context, file model.StoredFile, email model.Email) error {
	if h == nil || h.OnStored == nil {
		return nil
	}
	return h.OnStored(ctx, file, email)
}

// RenameObserver is told about every rename that moved a file.
type RenameObserver interface {
	Observer[model.StoredFile]
	Renamed(ctx context.Context, item RenameItem, newPath string) error
}

// RenameHooks implements RenameObserver.
type RenameHooks struct {
	Hooks[model.StoredFile]
	OnRenamed func(ctx context.Context, item RenameItem, newPath string) error
}

// Renamed implements RenameObserver.
func (h *RenameHooks) Renamed(ctx context.Context, item RenameItem, newPath string) error {
	if h == nil || h.OnRenamed == nil {
		return nil
	}
	return h.OnRenamed(ctx, item, newPath)
}
