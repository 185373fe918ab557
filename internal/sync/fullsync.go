package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/naming"
	"github.com/nhle/attachsync/internal/source"
	"github.com/nhle/attachsync/internal/storage"
)

// FullSyncConfig wires a full sync.
type FullSyncConfig struct {
	Source     source.EmailSource
	Filter     source.Filter
	Naming     naming.Strategy
	Storage    storage.Backend
	SourceName string
	BatchSize  int
	Logger     *zap.Logger
	OnProgress ProgressFunc
}

// FullSync re-evaluates every matching email without reading or writing
// the cache. Files already present are skipped.
func FullSync(ctx context.Context, cfg FullSyncConfig) (Result, error) {
	start := time.Now()
	log := runLogger(cfg.Logger, cfg.SourceName)

	log.Info("authorizing", zap.String("operation", "sync"))
	cfg.OnProgress.stage("authorizing...")
	if err := cfg.Source.Authorize(ctx); err != nil {
		return Result{}, err
	}

	log.Info("full sync starting", zap.String("operation", "sync"))
	res, err := chain{
		src:        cfg.Source,
		filter:     cfg.Filter,
		naming:     cfg.Naming,
		storage:    cfg.Storage,
		sourceName: cfg.SourceName,
		batchSize:  cfg.BatchSize,
		log:        log,
		progress:   cfg.OnProgress,
	}.run(ctx, time.Time{}, nil, nil)
	res.Duration = time.Since(start)
	if err != nil {
		log.Error("full sync failed", zap.String("operation", "sync"), zap.Error(err))
		return res, err
	}

	log.Info("full sync complete",
		zap.String("operation", "sync"),
		zap.Int("written", res.Written),
		zap.Int("skipped", res.Skipped),
		zap.Int("count", res.Fetched),
		zap.Duration("duration", res.Duration),
	)
	cfg.OnProgress.emit(Event{Kind: EventDone, Result: res})

	return res, nil
}
