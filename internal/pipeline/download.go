package pipeline

import (
	"context"
	"iter"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
)

// DownloadOptions configures Download.
type DownloadOptions struct {
	Observer DownloadObserver
}

// Download yields one context per attachment of each email, in order,
// with the payload materialized. Source is left empty for Name to fill.
// After each download the observer's Progress receives the running count
// and UnknownTotal.
func Download(
	ctx context.Context,
	src source.EmailSource,
	emails iter.Seq2[model.Email, error],
	opts DownloadOptions,
) iter.Seq2[model.AttachmentContext, error] {
	obs := opts.Observer
	if obs == nil {
		obs = &DownloadHooks{}
	}

	return func(yield func(model.AttachmentContext, error) bool) {
		downloaded := 0

		for email, err := range emails {
			if err != nil {
				yield(model.AttachmentContext{}, err)
				return
			}

			total := len(email.Attachments)
			for i, meta := range email.Attachments {
				data, err := src.DownloadAttachment(ctx, email.ID, meta.ID)
				if err != nil {
					yield(model.AttachmentContext{}, err)
					return
				}
				downloaded++

				item := model.AttachmentContext{
					Email:      email,
					Attachment: model.Attachment{AttachmentMeta: meta, Data: data},
					Index:      i + 1,
					Total:      total,
				}

				if err := obs.Item(ctx, item); err != nil {
					yield(model.AttachmentContext{}, err)
					return
				}
				obs.Progress(downloaded, UnknownTotal)

				if !yield(item, nil) {
					return
				}
			}
		}

		if err := obs.Complete(ctx); err != nil {
			yield(model.AttachmentContext{}, err)
		}
	}
}
