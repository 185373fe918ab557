// Package cli wires configuration, logging and the sync workflows into
// the attachsync command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/nhle/attachsync/internal/credential"
	"github.com/nhle/attachsync/internal/logging"
	"github.com/nhle/attachsync/internal/model"
)

// App holds the state shared by all commands.
type App struct {
	configPath string
	envFile    string
	logLevel   string
	plain      bool

	cfg     *model.AppConfig
	logger  *zap.Logger
	logFile *os.File

	// Seams replaced in tests.
	isTTY          func() bool
	openSource     sourceFactory
	openBackend    backendFactory
	getPassword    func(username string) (string, error)
	setPassword    func(username, password string) error
	deletePassword func(username string) error
	readLine       func(r io.Reader) (string, error)
}

// NewApp returns an App wired to the real IMAP source, storage
// backends and system keyring.
func NewApp() *App {
	return &App{
		isTTY:       isTTY,
		openSource:  openIMAPSource,
		openBackend: openBackend,
		getPassword: credential.IMAPPassword,
		setPassword: func(username, password string) error {
			return credential.Set(credential.IMAPPasswordKey(username), password)
		},
		deletePassword: func(username string) error {
			return credential.Delete(credential.IMAPPasswordKey(username))
		},
		readLine: readLine,
	}
}

// isTTY reports whether both stdin and stderr are terminals.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// annotationProgress marks commands that render the progress view.
const annotationProgress = "progress"

var progressAnnotation = map[string]string{annotationProgress: "true"}

// interactive reports whether the progress UI should be used.
func (a *App) interactive() bool {
	return !a.plain && a.isTTY()
}

// NewRootCommand builds the command tree. Running the root command
// without a subcommand performs an incremental sync.
func (a *App) NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   model.AppName,
		Short: "Extract email attachments into a named, deduplicated archive",
		Long: `attachsync searches a mailbox for emails matching a set of queries,
downloads their attachments and stores them under deterministic names.

Runs are incremental by default: only emails newer than the last
completed sync are considered, and the metadata needed to rename files
later is kept in a local cache.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
		RunE:        a.runSync,
		Annotations: progressAnnotation,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", model.DefaultConfigPath(), "config file path")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.BoolVar(&a.plain, "plain", false, "print plain progress lines instead of the interactive view")

	root.AddCommand(
		a.newSyncCommand(),
		a.newFullSyncCommand(),
		a.newRenameCommand(),
		a.newWatchCommand(),
		a.newAuthCommand(),
		a.newFilesCommand(),
	)

	return root
}

// setup loads the env file and config and builds the logger.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}

	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	var logger *zap.Logger
	if a.interactive() && cmd.Annotations[annotationProgress] == "true" {
		// The progress view owns the terminal; log to a file instead.
		logger, a.logFile, err = fileLogger(logCfg)
	} else {
		logger, err = logging.NewWithSink(logCfg, zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr())))
	}
	if err != nil {
		return err
	}
	a.logger = logger.Named(cmd.Name())

	return nil
}

// teardown flushes the logger and closes the log file, if any.
func (a *App) teardown(*cobra.Command, []string) {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// fileLogger writes logs to attachsync.log in the data directory. The
// returned file is owned by the caller.
func fileLogger(cfg logging.Config) (*zap.Logger, *os.File, error) {
	dir := model.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, model.AppName+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	cfg.Format = "json"
	logger, err := logging.NewWithSink(cfg, zapcore.Lock(f))
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}

// Execute runs the command line with the process arguments.
func Execute(ctx context.Context) error {
	return NewApp().NewRootCommand().ExecuteContext(ctx)
}
