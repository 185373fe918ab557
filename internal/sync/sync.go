// Package sync composes the pipeline stages into the full, incremental
// and rename-only workflows.
package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/internal/pipeline"
	"github.com/nhle/attachsync/internal/source"
	"github.com/nhle/attachsync/internal/storage"
)

// Result summarizes one workflow run.
type Result struct {
	Written int
	Skipped int
	Renamed int

	// Fetched is the number of emails whose metadata was fetched.
	Fetched int

	// CachedEmails and CachedFiles are the cache sizes after the run.
	// They stay zero for runs without a cache.
	CachedEmails int
	CachedFiles  int

	Duration time.Duration
}

// EventKind identifies a progress Event.
type EventKind int

const (
	// EventStage announces a workflow step; Message is set.
	EventStage EventKind = iota
	// EventDiscovered reports the number of distinct ids found.
	EventDiscovered
	// EventDownloaded reports the running attachment download count.
	EventDownloaded
	// EventFile reports one stored or renamed file.
	EventFile
	// EventDone carries the final Result.
	EventDone
)

// Event is a progress notification for interactive front ends.
type Event struct {
	Kind    EventKind
	Message string
	Count   int
	File    model.StoredFile
	Result  Result
}

// ProgressFunc receives progress events. It runs synchronously on the
// pipeline goroutine and must not block.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

func (f ProgressFunc) stage(msg string) {
	f.emit(Event{Kind: EventStage, Message: msg})
}

// runLogger tags a logger with a fresh run id and the source name.
func runLogger(logger *zap.Logger, sourceName string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(
		zap.String("run_id", uuid.NewString()),
		zap.String("source", sourceName),
	)
}

// chain holds what the discover-to-store stages need.
type chain struct {
	src        source.EmailSource
	filter     source.Filter
	naming     naming.Strategy
	storage    storage.Backend
	sourceName string
	batchSize  int
	log        *zap.Logger
	progress   ProgressFunc
}

// run drives Discover → Fetch → Download → Name → Store to completion.
// onFetched and onStored may be nil.
func (c chain) run(
	ctx context.Context,
	since time.Time,
	onFetched func(model.Email),
	onStored func(model.StoredFile, model.Email),
) (Result, error) {
	var res Result

	c.log.Info("discovering emails", zap.String("operation", "discover"))
	c.progress.stage("discovering emails...")
	ids := pipeline.Discover(ctx, c.src, c.filter, pipeline.DiscoverOptions{
		Since: since,
		Observer: &pipeline.DiscoverHooks{
			OnDiscovered: func(_ context.Context, ids []model.EmailID) error {
				c.log.Info("emails discovered",
					zap.String("operation", "discover"),
					zap.Int("count", len(ids)),
				)
				c.progress.emit(Event{Kind: EventDiscovered, Count: len(ids)})
				return nil
			},
		},
	})

	emails := pipeline.Fetch(ctx, c.src, ids, pipeline.FetchOptions{
		BatchSize: c.batchSize,
		Observer: &pipeline.FetchHooks{
			Hooks: pipeline.Hooks[model.Email]{
				OnItem: func(_ context.Context, e model.Email) error {
					res.Fetched++
					c.log.Debug("email fetched",
						zap.String("operation", "fetch"),
						zap.String("email_id", string(e.ID)),
						zap.Int("count", len(e.Attachments)),
					)
					if onFetched != nil {
						onFetched(e)
					}
					return nil
				},
			},
		},
	})

	downloads := pipeline.Download(ctx, c.src, emails, pipeline.DownloadOptions{
		Observer: &pipeline.DownloadHooks{
			Hooks: pipeline.Hooks[model.AttachmentContext]{
				OnItem: func(_ context.Context, a model.AttachmentContext) error {
					c.log.Debug("attachment downloaded",
						zap.String("operation", "download"),
						zap.String("email_id", string(a.Email.ID)),
						zap.String("attachment_id", a.Attachment.ID),
						zap.String("filename", a.Attachment.Filename),
					)
					return nil
				},
			},
			OnProgress: func(downloaded, _ int) {
				c.progress.emit(Event{Kind: EventDownloaded, Count: downloaded})
			},
		},
	})

	named := pipeline.Name(downloads, c.naming, c.sourceName)

	results := pipeline.Store(ctx, c.storage, named, pipeline.StoreOptions{
		Observer: &pipeline.StoreHooks{
			OnStored: func(_ context.Context, f model.StoredFile, e model.Email) error {
				if onStored != nil {
					onStored(f, e)
				}
				return nil
			},
		},
	})

	for f, err := range results {
		if err != nil {
			return res, err
		}

		switch f.Status {
		case model.StatusWritten:
			res.Written++
			c.log.Info("file written",
				zap.String("operation", "store"),
				zap.String("filename", f.Path),
				zap.String("status", string(f.Status)),
			)
		default:
			res.Skipped++
			c.log.Debug("file skipped",
				zap.String("operation", "store"),
				zap.String("filename", f.Path),
				zap.String("status", string(f.Status)),
			)
		}
		c.progress.emit(Event{Kind: EventFile, File: f})
	}

	return res, nil
}
