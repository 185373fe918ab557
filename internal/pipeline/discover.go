package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
)

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// Since restricts discovery to messages on or after this day. The
	// zero value means no restriction.
	Since    time.Time
	Observer DiscoverObserver
}

// Discover streams the distinct ids matching filter. An id returned by
// more than one query is yielded only the first time. Once the source is
// exhausted the observer's Batch and Discovered methods receive the
// ordered distinct ids, followed by Complete.
func Discover(
	ctx context.Context,
	src source.EmailSource,
	filter source.Filter,
	opts DiscoverOptions,
) iter.Seq2[model.EmailID, error] {
	obs := opts.Observer
	if obs == nil {
		obs = &DiscoverHooks{}
	}

	return func(yield func(model.EmailID, error) bool) {
		seen := make(map[model.EmailID]struct{})
		var ids []model.EmailID

		for id, err := range src.Discover(ctx, filter, opts.Since) {
			if err != nil {
				yield("", err)
				return
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)

			if err := obs.Item(ctx, id); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}

		if len(ids) > 0 {
			if err := obs.Batch(ctx, ids); err != nil {
				yield("", err)
				return
			}
		}
		if err := obs.Discovered(ctx, ids); err != nil {
			yield("", err)
			return
		}
		if err := obs.Complete(ctx); err != nil {
			yield("", err)
		}
	}
}
