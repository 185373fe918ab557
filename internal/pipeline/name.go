package pipeline

import (
	"iter"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
)

// Name tags each downloaded attachment with sourceName and its generated
// filename. It has no side effects.
func Name(
	items iter.Seq2[model.AttachmentContext, error],
	strategy naming.Strategy,
	sourceName string,
) iter.Seq2[model.NamedAttachment, error] {
	return func(yield func(model.NamedAttachment, error) bool) {
		for item, err := range items {
			if err != nil {
				yield(model.NamedAttachment{}, err)
				return
			}

			item.Source = sourceName
			named := model.NamedAttachment{
				AttachmentContext: item,
				GeneratedName:     naming.Generate(strategy, item),
			}
			if !yield(named, nil) {
				return
			}
		}
	}
}
