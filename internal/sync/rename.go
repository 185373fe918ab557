package sync

import (
	"context"
	"iter"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/cache"
	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/internal/pipeline"
	"github.com/nhle/attachsync/internal/storage"
)

// RenameConfig wires a rename-only run.
type RenameConfig struct {
	Naming     naming.Strategy
	Storage    storage.Backend
	Cache      *cache.Cache
	SourceName string
	Logger     *zap.Logger
	OnProgress ProgressFunc
}

// Rename applies the current naming strategy to every tracked file using
// only cached metadata; nothing is fetched. An empty cache is a no-op.
func Rename(ctx context.Context, cfg RenameConfig) (Result, error) {
	start := time.Now()
	log := runLogger(cfg.Logger, cfg.SourceName)

	if err := cfg.Cache.Load(ctx); err != nil {
		return Result{}, err
	}

	if cfg.Cache.EmailCount() == 0 {
		log.Warn("cache empty", zap.String("operation", "rename"))
		cfg.OnProgress.stage("cache is empty. run sync first to populate metadata.")
		return Result{Duration: time.Since(start)}, nil
	}

	log.Info("rename starting",
		zap.String("operation", "rename"),
		zap.Int("email_count", cfg.Cache.EmailCount()),
	)
	entries := cfg.Cache.FilePaths()
	log.Info("files found", zap.String("operation", "rename"), zap.Int("count", len(entries)))
	cfg.OnProgress.emit(Event{Kind: EventDiscovered, Count: len(entries)})

	results := pipeline.Rename(ctx, cfg.Storage, renameItems(cfg, entries), pipeline.RenameOptions{
		Observer: &pipeline.RenameHooks{
			OnRenamed: func(_ context.Context, item pipeline.RenameItem, newPath string) error {
				cfg.Cache.SetFilePath(item.Email.ID, item.AttachmentID, newPath)
				return nil
			},
		},
	})

	var res Result
	for f, err := range results {
		if err != nil {
			// Keep the renames that already happened.
			if flushErr := cfg.Cache.Flush(ctx); flushErr != nil {
				log.Error("flushing after failed rename", zap.Error(flushErr))
			}
			res.Duration = time.Since(start)
			log.Error("rename failed", zap.String("operation", "rename"), zap.Error(err))
			return res, err
		}

		if f.Status == model.StatusRenamed {
			res.Renamed++
			log.Info("file renamed",
				zap.String("operation", "rename"),
				zap.String("filename", path.Base(f.Path)),
			)
		} else {
			res.Skipped++
			log.Debug("file skipped",
				zap.String("operation", "rename"),
				zap.String("filename", f.Path),
				zap.String("status", string(f.Status)),
			)
		}
		cfg.OnProgress.emit(Event{Kind: EventFile, File: f})
	}

	if err := cfg.Cache.Flush(ctx); err != nil {
		return res, err
	}

	res.CachedEmails = cfg.Cache.EmailCount()
	res.CachedFiles = cfg.Cache.FileCount()
	res.Duration = time.Since(start)

	log.Info("rename complete",
		zap.String("operation", "rename"),
		zap.Int("renamed", res.Renamed),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration),
	)
	cfg.OnProgress.emit(Event{Kind: EventDone, Result: res})

	return res, nil
}

// renameItems regenerates the name of each tracked file from its cached
// email. Entries whose email or attachment is no longer cached are
// dropped.
func renameItems(cfg RenameConfig, entries []cache.FileEntry) iter.Seq2[pipeline.RenameItem, error] {
	return func(yield func(pipeline.RenameItem, error) bool) {
		for _, entry := range entries {
			e, ok := cfg.Cache.Email(entry.EmailID)
			if !ok {
				continue
			}
			idx := e.AttachmentIndex(entry.AttachmentID)
			if idx == 0 {
				continue
			}

			newName := naming.Generate(cfg.Naming, model.AttachmentContext{
				Email:      e,
				Attachment: model.Attachment{AttachmentMeta: e.Attachments[idx-1]},
				Index:      idx,
				Total:      len(e.Attachments),
				Source:     cfg.SourceName,
			})

			item := pipeline.RenameItem{
				OldPath:      entry.Path,
				NewName:      newName,
				AttachmentID: entry.AttachmentID,
				Email:        e,
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
