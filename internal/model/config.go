package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppName is used for config/data directories, the keyring service and
// the environment variable prefix.
const AppName = "attachsync"

// IMAPConfig holds the connection settings for the IMAP email source.
// The password is never stored here; it lives in the system keyring.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false the client uses STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Mailbox is the folder searched for messages
	// (e.g., "INBOX" or "[Gmail]/All Mail").
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// Extensions lists the attachment extensions that are extracted.
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
}

// S3Config holds the settings for the S3-compatible storage backend.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is "local" or "s3".
	Type string   `mapstructure:"type" yaml:"type"`
	Dir  string   `mapstructure:"dir" yaml:"dir"`
	S3   S3Config `mapstructure:"s3" yaml:"s3"`
}

// CacheConfig controls where and how sync state is persisted.
type CacheConfig struct {
	// Dir defaults to a hidden directory inside the local output dir.
	Dir string `mapstructure:"dir" yaml:"dir"`

	// Format is "sqlite" or "json".
	Format string `mapstructure:"format" yaml:"format"`
}

// FilterConfig overrides the built-in invoice queries when non-empty.
type FilterConfig struct {
	Queries []string `mapstructure:"queries" yaml:"queries"`
}

// FetchConfig tunes the fetch stage.
type FetchConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// WatchConfig holds the schedule used by the watch command.
type WatchConfig struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	SourceName string        `mapstructure:"source_name" yaml:"source_name"`
	IMAP       IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Storage    StorageConfig `mapstructure:"storage" yaml:"storage"`
	Cache      CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Filter     FilterConfig  `mapstructure:"filter" yaml:"filter"`
	Fetch      FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Log        LogConfig     `mapstructure:"log" yaml:"log"`
	Watch      WatchConfig   `mapstructure:"watch" yaml:"watch"`
}

// ConfigDir returns $XDG_CONFIG_HOME/attachsync, falling back to
// ~/.config/attachsync.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+AppName)
	}
	return filepath.Join(home, ".config", AppName)
}

// DataDir returns $XDG_DATA_HOME/attachsync, falling back to
// ~/.local/share/attachsync.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+AppName, "data")
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/attachsync/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		SourceName: "imap",
		IMAP: IMAPConfig{
			Port:       "993",
			TLS:        true,
			Mailbox:    "INBOX",
			Extensions: []string{".pdf", ".png", ".jpg", ".jpeg"},
		},
		Storage: StorageConfig{
			Type: "local",
			Dir:  filepath.Join(DataDir(), "attachments"),
		},
		Cache: CacheConfig{
			Format: "sqlite",
		},
		Fetch: FetchConfig{
			BatchSize: 50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Watch: WatchConfig{
			Schedule: "@hourly",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with ATTACHSYNC_ override file values
// (e.g., ATTACHSYNC_STORAGE_DIR). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	defaults := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values and so
	// AutomaticEnv can see every key.
	v.SetDefault("source_name", defaults.SourceName)
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", defaults.IMAP.Port)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.tls", defaults.IMAP.TLS)
	v.SetDefault("imap.mailbox", defaults.IMAP.Mailbox)
	v.SetDefault("imap.extensions", defaults.IMAP.Extensions)
	v.SetDefault("storage.type", defaults.Storage.Type)
	v.SetDefault("storage.dir", defaults.Storage.Dir)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.path_style", false)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.format", defaults.Cache.Format)
	v.SetDefault("filter.queries", []string{})
	v.SetDefault("fetch.batch_size", defaults.Fetch.BatchSize)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("watch.schedule", defaults.Watch.Schedule)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaults
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Fetch.BatchSize < 1 {
		cfg.Fetch.BatchSize = 50
	}

	return cfg, nil
}

// Validate reports configuration errors that would make a sync fail
// before any network call.
func (c *AppConfig) Validate() error {
	switch c.Storage.Type {
	case "local":
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for local storage")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Cache.Format {
	case "sqlite", "json":
	default:
		return fmt.Errorf("unknown cache format %q", c.Cache.Format)
	}

	if c.SourceName == "" {
		return errors.New("source_name must not be empty")
	}

	return nil
}

// CacheDir resolves the directory holding the sync cache. It is bound to
// the output location: the local storage dir for local storage, or a
// per-bucket directory under the data dir for S3.
func (c *AppConfig) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	if c.Storage.Type == "s3" {
		return filepath.Join(DataDir(), "cache", c.Storage.S3.Bucket)
	}
	return filepath.Join(c.Storage.Dir, "."+AppName)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("source_name", cfg.SourceName)
	v.Set("imap", cfg.IMAP)
	v.Set("storage", cfg.Storage)
	v.Set("cache", cfg.Cache)
	v.Set("filter", cfg.Filter)
	v.Set("fetch", cfg.Fetch)
	v.Set("log", cfg.Log)
	v.Set("watch", cfg.Watch)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
