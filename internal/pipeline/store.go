package pipeline

import (
	"context"
	"iter"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/storage"
)

// StoreOptions configures Store.
type StoreOptions struct {
	Observer StoreObserver
}

// Store writes each named attachment unless a file already exists under
// its generated name. The observer's Stored method runs for every
// result, written or skipped.
func Store(
	ctx context.Context,
	backend storage.Backend,
	items iter.Seq2[model.NamedAttachment, error],
	opts StoreOptions,
) iter.Seq2[model.StoredFile, error] {
	obs := opts.Observer
	if obs == nil {
		obs = &StoreHooks{}
	}

	return func(yield func(model.StoredFile, error) bool) {
		for item, err := range items {
			if err != nil {
				yield(model.StoredFile{}, err)
				return
			}

			exists, err := backend.Exists(ctx, item.GeneratedName)
			if err != nil {
				yield(model.StoredFile{}, err)
				return
			}

			attID := item.Attachment.ID
			result := model.StoredFile{Path: item.GeneratedName, Status: model.StatusSkipped, AttachmentID: attID}
			if !exists {
				path, err := backend.Write(ctx, item.GeneratedName, item.Attachment.Data)
				if err != nil {
					yield(model.StoredFile{}, err)
					return
				}
				result = model.StoredFile{Path: path, Status: model.StatusWritten, AttachmentID: attID}
			}

			if err := obs.Item(ctx, result); err != nil {
				yield(model.StoredFile{}, err)
				return
			}
			if err := obs.Stored(ctx, result, item.Email); err != nil {
				yield(model.StoredFile{}, err)
				return
			}
			if !yield(result, nil) {
				return
			}
		}

		if err := obs.Complete(ctx); err != nil {
			yield(model.StoredFile{}, err)
		}
	}
}
