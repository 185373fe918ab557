package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/attachsync/internal/cache"
	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/source"
	"github.com/nhle/attachsync/internal/source/email"
	"github.com/nhle/attachsync/internal/storage"
)

// mailSource is an email source holding a session that must be closed.
type mailSource interface {
	source.EmailSource
	Close() error
}

var _ mailSource = (*email.Adapter)(nil)

// connectionValidator checks credentials without keeping a session.
type connectionValidator interface {
	ValidateConnection(ctx context.Context) (string, error)
}

// validate checks that src accepts its credentials.
func validate(ctx context.Context, src mailSource) error {
	if v, ok := src.(connectionValidator); ok {
		_, err := v.ValidateConnection(ctx)
		return err
	}
	return src.Authorize(ctx)
}

type (
	sourceFactory  func(cfg model.IMAPConfig, password email.PasswordFunc, logger *zap.Logger) mailSource
	backendFactory func(ctx context.Context, cfg model.StorageConfig) (storage.Backend, error)
)

func openIMAPSource(cfg model.IMAPConfig, password email.PasswordFunc, logger *zap.Logger) mailSource {
	return email.NewAdapter(cfg, password, logger)
}

func openBackend(ctx context.Context, cfg model.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "", "local":
		return storage.NewLocal(cfg.Dir), nil
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// openCache returns the cache for the configured output location. It is
// loaded by the workflow that uses it.
func (a *App) openCache() (*cache.Cache, error) {
	persister, err := cache.NewPersister(a.cfg.Cache.Format, a.cfg.CacheDir())
	if err != nil {
		return nil, err
	}
	return cache.New(persister, a.logger.Named("cache")), nil
}

// session opens the configured source and backend.
func (a *App) session(ctx context.Context) (mailSource, storage.Backend, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", a.configPath, err)
	}

	backend, err := a.openBackend(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	src := a.openSource(a.cfg.IMAP, a.getPassword, a.logger.Named("imap"))
	return src, backend, nil
}

// readLine reads one line from r without its line ending.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}
