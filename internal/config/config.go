// Package config loads FitSync settings from a YAML file and FITSYNC_
// environment overrides.
package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	fsync "github.com/kimhsiao/fitsync/internal/sync"
	"github.com/kimhsiao/fitsync/internal/sync/queue"
	"github.com/kimhsiao/fitsync/internal/sync/s3"
	"github.com/kimhsiao/fitsync/internal/sync/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. FITSYNC_REMOTE_TOKEN.
const EnvPrefix = "FITSYNC"

// Config is the full application configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RemoteConfig points at the sync service.
type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
}

// SyncConfig tunes the sync cycle and its scheduler.
type SyncConfig struct {
	PushBatchSize    int           `mapstructure:"push_batch_size"`
	PullPageSize     int           `mapstructure:"pull_page_size"`
	NetworkTimeout   time.Duration `mapstructure:"network_timeout"`
	Interval         time.Duration `mapstructure:"interval"`
	QueueInterval    time.Duration `mapstructure:"queue_interval"`
	ConflictStrategy string        `mapstructure:"conflict_strategy"`
}

// AssetsConfig tunes the upload queue.
type AssetsConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	// StagingDir holds content-addressed copies of files waiting for upload.
	// Empty means <data_dir>/staging.
	StagingDir string      `mapstructure:"staging_dir"`
	S3         s3.Settings `mapstructure:"s3"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig controls the prometheus endpoint.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dataDir := ".fitsync"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".fitsync")
	}
	sched := scheduler.DefaultConfig()
	return &Config{
		DataDir: dataDir,
		Remote: RemoteConfig{
			RetryMax:     3,
			RetryWaitMin: 500 * time.Millisecond,
			RetryWaitMax: 10 * time.Second,
		},
		Sync: SyncConfig{
			PushBatchSize:    fsync.DefaultPushBatchSize,
			PullPageSize:     fsync.DefaultPullPageSize,
			NetworkTimeout:   fsync.DefaultNetworkTimeout,
			Interval:         sched.SyncInterval,
			QueueInterval:    sched.QueueInterval,
			ConflictStrategy: "last_write_wins",
		},
		Assets: AssetsConfig{
			MaxRetries:    queue.DefaultMaxRetries,
			BackoffBase:   queue.DefaultBackoffBase,
			BackoffMax:    queue.DefaultBackoffMax,
			UploadTimeout: queue.DefaultUploadTimeout,
			S3:            s3.Settings{Provider: s3.ProviderAWS, Region: "us-east-1", UseSSL: true, KeyPrefix: "assets"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{Addr: "127.0.0.1:9464"},
	}
}

// LoggingOptions converts the logging section for logging.Setup.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

// StagingDir resolves the asset staging directory.
func (c *Config) StagingDir() string {
	if c.Assets.StagingDir != "" {
		return c.Assets.StagingDir
	}
	return filepath.Join(c.DataDir, "staging")
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return apperrors.New(apperrors.ErrInvalid, "data_dir is required")
	case c.Sync.PushBatchSize <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.push_batch_size must be positive")
	case c.Sync.PullPageSize <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.pull_page_size must be positive")
	case c.Sync.NetworkTimeout <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync.network_timeout must be positive")
	case c.Sync.Interval <= 0 || c.Sync.QueueInterval <= 0:
		return apperrors.New(apperrors.ErrInvalid, "sync intervals must be positive")
	case c.Assets.MaxRetries <= 0:
		return apperrors.New(apperrors.ErrInvalid, "assets.max_retries must be positive")
	case c.Assets.BackoffBase <= 0 || c.Assets.BackoffMax < c.Assets.BackoffBase:
		return apperrors.New(apperrors.ErrInvalid, "assets backoff must satisfy 0 < backoff_base <= backoff_max")
	case c.Telemetry.Enabled && c.Telemetry.Addr == "":
		return apperrors.New(apperrors.ErrInvalid, "telemetry.addr is required when telemetry is enabled")
	}
	switch c.Sync.ConflictStrategy {
	case "last_write_wins", "manual":
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown sync.conflict_strategy %q", c.Sync.ConflictStrategy)
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".fitsync"))
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so AutomaticEnv can override keys that the
// file never mentions.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.retry_max", d.Remote.RetryMax)
	v.SetDefault("remote.retry_wait_min", d.Remote.RetryWaitMin)
	v.SetDefault("remote.retry_wait_max", d.Remote.RetryWaitMax)

	v.SetDefault("sync.push_batch_size", d.Sync.PushBatchSize)
	v.SetDefault("sync.pull_page_size", d.Sync.PullPageSize)
	v.SetDefault("sync.network_timeout", d.Sync.NetworkTimeout)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.queue_interval", d.Sync.QueueInterval)
	v.SetDefault("sync.conflict_strategy", d.Sync.ConflictStrategy)

	v.SetDefault("assets.max_retries", d.Assets.MaxRetries)
	v.SetDefault("assets.backoff_base", d.Assets.BackoffBase)
	v.SetDefault("assets.backoff_max", d.Assets.BackoffMax)
	v.SetDefault("assets.upload_timeout", d.Assets.UploadTimeout)
	v.SetDefault("assets.staging_dir", d.Assets.StagingDir)
	v.SetDefault("assets.s3.provider", d.Assets.S3.Provider)
	v.SetDefault("assets.s3.endpoint", d.Assets.S3.Endpoint)
	v.SetDefault("assets.s3.region", d.Assets.S3.Region)
	v.SetDefault("assets.s3.bucket", d.Assets.S3.Bucket)
	v.SetDefault("assets.s3.access_key", d.Assets.S3.AccessKey)
	v.SetDefault("assets.s3.secret_key", d.Assets.S3.SecretKey)
	v.SetDefault("assets.s3.account_id", d.Assets.S3.AccountID)
	v.SetDefault("assets.s3.use_ssl", d.Assets.S3.UseSSL)
	v.SetDefault("assets.s3.public_base_url", d.Assets.S3.PublicBaseURL)
	v.SetDefault("assets.s3.key_prefix", d.Assets.S3.KeyPrefix)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.addr", d.Telemetry.Addr)
}

// Load reads configuration from path, or from config.yaml in the working
// directory or ~/.fitsync when path is empty. A missing file is not an
// error when path is empty; defaults and environment apply.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to create config directory", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to write config", err)
	}
	return nil
}

// Watch reloads path whenever it changes and hands each valid result to fn.
// Invalid edits are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid config path", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to create config watcher", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to watch config directory", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				logging.Warn("config reload rejected", map[string]interface{}{
					"path":  abs,
					"error": err.Error(),
				})
				continue
			}
			logging.Info("config reloaded", map[string]interface{}{"path": abs})
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("config watcher error", err)
		}
	}
}
