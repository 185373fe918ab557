package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/cache"
	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/internal/source"
	"github.com/nhle/attachsync/internal/storage"
)

// IncrementalConfig wires an incremental sync.
type IncrementalConfig struct {
	Source     source.EmailSource
	Filter     source.Filter
	Naming     naming.Strategy
	Storage    storage.Backend
	Cache      *cache.Cache
	SourceName string
	BatchSize  int
	Logger     *zap.Logger
	OnProgress ProgressFunc

	// Now defaults to time.Now.
	Now func() time.Time
}

// Incremental syncs only emails since the last completed run, recording
// fetched metadata and stored paths in the cache. Without a previous run
// it discovers everything, like FullSync. The cache is flushed once, after
// the stream completes; a failed run leaves the persisted cache as it was.
func Incremental(ctx context.Context, cfg IncrementalConfig) (Result, error) {
	start := time.Now()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := runLogger(cfg.Logger, cfg.SourceName)

	if err := cfg.Cache.Load(ctx); err != nil {
		return Result{}, err
	}
	lastSync, hasLastSync := cfg.Cache.LastSync()

	log.Info("authorizing", zap.String("operation", "sync"))
	cfg.OnProgress.stage("authorizing...")
	if err := cfg.Source.Authorize(ctx); err != nil {
		return Result{}, err
	}

	var since time.Time
	if hasLastSync {
		since = lastSync
		log.Info("incremental sync starting",
			zap.String("operation", "sync"),
			zap.Time("since", lastSync),
		)
		cfg.OnProgress.stage("incremental sync since " + lastSync.Format(time.RFC3339) + "...")
	} else {
		log.Info("full discovery starting", zap.String("operation", "sync"))
		cfg.OnProgress.stage("no previous sync found, doing full discovery...")
	}

	res, err := chain{
		src:        cfg.Source,
		filter:     cfg.Filter,
		naming:     cfg.Naming,
		storage:    cfg.Storage,
		sourceName: cfg.SourceName,
		batchSize:  cfg.BatchSize,
		log:        log,
		progress:   cfg.OnProgress,
	}.run(ctx, since,
		cfg.Cache.SetEmail,
		func(f model.StoredFile, e model.Email) {
			cfg.Cache.SetFilePath(e.ID, f.AttachmentID, f.Path)
		},
	)
	if err != nil {
		res.Duration = time.Since(start)
		log.Error("sync failed", zap.String("operation", "sync"), zap.Error(err))
		return res, err
	}

	cfg.Cache.SetLastSync(now())
	if err := cfg.Cache.Flush(ctx); err != nil {
		return res, err
	}

	res.CachedEmails = cfg.Cache.EmailCount()
	res.CachedFiles = cfg.Cache.FileCount()
	res.Duration = time.Since(start)

	log.Info("sync complete",
		zap.String("operation", "sync"),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("email_count", res.CachedEmails),
		zap.Int("file_count", res.CachedFiles),
		zap.Duration("duration", res.Duration),
	)
	cfg.OnProgress.emit(Event{Kind: EventDone, Result: res})

	return res, nil
}
