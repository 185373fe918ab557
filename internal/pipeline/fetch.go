package pipeline

import (
	"context"
	"iter"
	"slices"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
)

// DefaultBatchSize is the fetch batch size used when none is set.
const DefaultBatchSize = 50

// FetchOptions configures Fetch.
type FetchOptions struct {
	BatchSize int
	Observer  FetchObserver
}

// Fetch streams the metadata of each id from src. Fetched emails are
// buffered; when the buffer reaches BatchSize the observer's Batch
// receives a copy and the buffer is cleared. At exhaustion any remainder
// goes to Batch, then CacheUpdate receives that same remainder (only the
// trailing partial batch, never the full set), then Complete runs.
func Fetch(
	ctx context.Context,
	src source.EmailSource,
	ids iter.Seq2[model.EmailID, error],
	opts FetchOptions,
) iter.Seq2[model.Email, error] {
	obs := opts.Observer
	if obs == nil {
		obs = &FetchHooks{}
	}
	size := opts.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}

	return func(yield func(model.Email, error) bool) {
		batch := make([]model.Email, 0, size)

		for email, err := range src.Fetch(ctx, ids) {
			if err != nil {
				yield(model.Email{}, err)
				return
			}

			if err := obs.Item(ctx, email); err != nil {
				yield(model.Email{}, err)
				return
			}

			batch = append(batch, email)
			if len(batch) >= size {
				if err := obs.Batch(ctx, slices.Clone(batch)); err != nil {
					yield(model.Email{}, err)
					return
				}
				batch = batch[:0]
			}

			if !yield(email, nil) {
				return
			}
		}

		if len(batch) > 0 {
			if err := obs.Batch(ctx, slices.Clone(batch)); err != nil {
				yield(model.Email{}, err)
				return
			}
		}
		if err := obs.CacheUpdate(ctx, slices.Clone(batch)); err != nil {
			yield(model.Email{}, err)
			return
		}
		if err := obs.Complete(ctx); err != nil {
			yield(model.Email{}, err)
		}
	}
}
