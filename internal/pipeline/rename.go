package pipeline

import (
	"context"
	"iter"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/storage"
)

// RenameItem asks for the file at OldPath, holding the attachment
// AttachmentID of Email, to be renamed to NewName.
type RenameItem struct {
	OldPath      string
	NewName      string
	AttachmentID string
	Email        model.Email
}

// RenameOptions configures Rename.
type RenameOptions struct {
	Observer RenameObserver
}

// Rename moves each file to its new name. Items whose old path already
// equals the new name, or whose new name is already taken by another
// file, are skipped without moving anything. Only actual renames reach
// the observer's Renamed method.
func Rename(
	ctx context.Context,
	backend storage.Backend,
	items iter.Seq2[RenameItem, error],
	opts RenameOptions,
) iter.Seq2[model.StoredFile, error] {
	obs := opts.Observer
	if obs == nil {
		obs = &RenameHooks{}
	}

	return func(yield func(model.StoredFile, error) bool) {
		for item, err := range items {
			if err != nil {
				yield(model.StoredFile{}, err)
				return
			}

			skip := item.OldPath == item.NewName
			if !skip {
				taken, err := backend.Exists(ctx, item.NewName)
				if err != nil {
					yield(model.StoredFile{}, err)
					return
				}
				skip = taken
			}

			if skip {
				result := model.StoredFile{Path: item.OldPath, Status: model.StatusSkipped, AttachmentID: item.AttachmentID}
				if err := obs.Item(ctx, result); err != nil {
					yield(model.StoredFile{}, err)
					return
				}
				if !yield(result, nil) {
					return
				}
				continue
			}

			newPath, err := backend.Rename(ctx, item.OldPath, item.NewName)
			if err != nil {
				yield(model.StoredFile{}, err)
				return
			}
			result := model.StoredFile{Path: newPath, Status: model.StatusRenamed, AttachmentID: item.AttachmentID}

			if err := obs.Item(ctx, result); err != nil {
				yield(model.StoredFile{}, err)
				return
			}
			if err := obs.Renamed(ctx, item, newPath); err != nil {
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
