package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/attachsync/internal/filter"
	"github.com/nhle/attachsync/internal/model"
	"github.com/nhle/attachsync/internal/naming"
	appsync "github.com/nhle/attachsync/internal/sync"
	"github.com/nhle/attachsync/internal/ui/progress"
)

func (a *App) newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "sync",
		Short:       "Sync attachments from emails received since the last run",
		Args:        cobra.NoArgs,
		RunE:        a.runSync,
		Annotations: progressAnnotation,
	}
}

func (a *App) newFullSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "full-sync",
		Short:       "Re-scan every matching email, ignoring the cache",
		Args:        cobra.NoArgs,
		Annotations: progressAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			src, backend, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer src.Close()

			cfg := appsync.FullSyncConfig{
				Source:     src,
				Filter:     filter.FromConfig(a.cfg.Filter.Queries),
				Naming:     naming.InvoiceStrategy{},
				Storage:    backend,
				SourceName: a.cfg.SourceName,
				BatchSize:  a.cfg.Fetch.BatchSize,
				Logger:     a.logger,
			}
			return a.runWork(cmd, "attachsync full-sync",
				func(ctx context.Context, p appsync.ProgressFunc) (appsync.Result, error) {
					cfg.OnProgress = p
					return appsync.FullSync(ctx, cfg)
				})
		},
	}
}

func (a *App) newRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "rename",
		Short:       "Rename stored files with the current naming scheme, using cached metadata",
		Args:        cobra.NoArgs,
		Annotations: progressAnnotation,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config %s: %w", a.configPath, err)
			}
			backend, err := a.openBackend(cmd.Context(), a.cfg.Storage)
			if err != nil {
				return err
			}
			c, err := a.openCache()
			if err != nil {
				return err
			}

			cfg := appsync.RenameConfig{
				Naming:     naming.InvoiceStrategy{},
				Storage:    backend,
				Cache:      c,
				SourceName: a.cfg.SourceName,
				Logger:     a.logger,
			}
			return a.runWork(cmd, "attachsync rename",
				func(ctx context.Context, p appsync.ProgressFunc) (appsync.Result, error) {
					cfg.OnProgress = p
					return appsync.Rename(ctx, cfg)
				})
		},
	}
}

func (a *App) runSync(cmd *cobra.Command, _ []string) error {
	cfg, closeFn, err := a.incrementalConfig(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	return a.runWork(cmd, "attachsync sync",
		func(ctx context.Context, p appsync.ProgressFunc) (appsync.Result, error) {
			cfg.OnProgress = p
			return appsync.Incremental(ctx, cfg)
		})
}

// incrementalConfig opens everything an incremental run needs. The
// returned func closes the source session.
func (a *App) incrementalConfig(ctx context.Context) (appsync.IncrementalConfig, func(), error) {
	src, backend, err := a.session(ctx)
	if err != nil {
		return appsync.IncrementalConfig{}, nil, err
	}
	c, err := a.openCache()
	if err != nil {
		_ = src.Close()
		return appsync.IncrementalConfig{}, nil, err
	}

	cfg := appsync.IncrementalConfig{
		Source:     src,
		Filter:     filter.FromConfig(a.cfg.Filter.Queries),
		Naming:     naming.InvoiceStrategy{},
		Storage:    backend,
		Cache:      c,
		SourceName: a.cfg.SourceName,
		BatchSize:  a.cfg.Fetch.BatchSize,
		Logger:     a.logger,
	}
	return cfg, func() { _ = src.Close() }, nil
}

// runWork runs work under the interactive progress view, or with plain
// progress lines on stdout.
func (a *App) runWork(cmd *cobra.Command, title string, work progress.Work) error {
	if a.interactive() {
		_, err := progress.Run(cmd.Context(), title, work)
		return err
	}

	_, err := work(cmd.Context(), plainProgress(cmd.OutOrStdout()))
	return err
}

// plainProgress prints stage messages, changed files and the summary.
func plainProgress(w io.Writer) appsync.ProgressFunc {
	return func(ev appsync.Event) {
		switch ev.Kind {
		case appsync.EventStage:
			fmt.Fprintln(w, ev.Message)
		case appsync.EventDiscovered:
			fmt.Fprintf(w, "found %d emails\n", ev.Count)
		case appsync.EventFile:
			if ev.File.Status != model.StatusSkipped {
				fmt.Fprintf(w, "%s %s\n", ev.File.Status, ev.File.Path)
			}
		case appsync.EventDone:
			printResult(w, ev.Result)
		}
	}
}

func printResult(w io.Writer, res appsync.Result) {
	fmt.Fprintf(w, "done: %d written, %d skipped", res.Written, res.Skipped)
	if res.Renamed > 0 {
		fmt.Fprintf(w, ", %d renamed", res.Renamed)
	}
	fmt.Fprintf(w, " in %s\n", res.Duration.Round(time.Millisecond))
	if res.CachedEmails > 0 || res.CachedFiles > 0 {
		fmt.Fprintf(w, "cache: %d emails, %d files tracked\n", res.CachedEmails, res.CachedFiles)
	}
}
