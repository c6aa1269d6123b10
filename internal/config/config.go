// Package config loads and persists fieldsync configuration.
//
// Configuration lives in .fieldsync/config.yaml next to the database.
// Values resolve in the usual precedence order: environment variables
// (FIELDSYNC_*), then the config file, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DirName is the per-checkout data directory, discovered by walking up
// from the working directory.
const DirName = ".fieldsync"

// ConfigFileName is the config file inside DirName.
const ConfigFileName = "config.yaml"

// DBFileName is the SQLite database inside DirName.
const DBFileName = "field.db"

// AuthConfig holds backend credentials.
type AuthConfig struct {
	Token        string `mapstructure:"token" yaml:"token,omitempty"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token,omitempty"`
}

// SyncConfig tunes the background sync workers.
type SyncConfig struct {
	// ProgressInterval is the periodic pass interval for progress
	// entries; it also caps their retry backoff.
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`

	// MediaInterval is the periodic pass interval for media assets.
	MediaInterval time.Duration `mapstructure:"media_interval" yaml:"media_interval"`

	// TrackInterval is the periodic pass interval for GPS tracks.
	TrackInterval time.Duration `mapstructure:"track_interval" yaml:"track_interval"`

	// BackoffBase is the first retry delay; it doubles per retry.
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`

	// StaleAfter is how long a claimed entry may sit in syncing before
	// it is treated as orphaned by a crash. Zero means one scheduling
	// interval per entity type.
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

// WatchConfig configures the capture directory watcher.
type WatchConfig struct {
	// Enabled turns on filesystem watching of capture directories.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MediaDir is watched for new photos and videos.
	MediaDir string `mapstructure:"media_dir" yaml:"media_dir,omitempty"`

	// TrackDir is watched for new GPX files.
	TrackDir string `mapstructure:"track_dir" yaml:"track_dir,omitempty"`

	// Debounce is how long a file must stay quiet before it is
	// recorded; cameras write in bursts.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// LogConfig configures daemon log rotation.
type LogConfig struct {
	// File is the daemon log path. Empty logs to stderr only.
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Config is the full fieldsync configuration.
type Config struct {
	// ServerURL is the backend base URL.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`

	// ProjectID is the default project for captures.
	ProjectID string `mapstructure:"project_id" yaml:"project_id,omitempty"`

	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerURL: "http://localhost:8000",
		Sync: SyncConfig{
			ProgressInterval: time.Minute,
			MediaInterval:    5 * time.Minute,
			TrackInterval:    5 * time.Minute,
			BackoffBase:      5 * time.Second,
			StaleAfter:       0,
			ProbeInterval:    15 * time.Second,
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 2 * time.Second,
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    8459,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from dir (a .fieldsync directory), layering
// the config file and FIELDSYNC_* environment variables over defaults.
// A missing config file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("server_url", def.ServerURL)
	v.SetDefault("project_id", def.ProjectID)
	v.SetDefault("sync.progress_interval", def.Sync.ProgressInterval)
	v.SetDefault("sync.media_interval", def.Sync.MediaInterval)
	v.SetDefault("sync.track_interval", def.Sync.TrackInterval)
	v.SetDefault("sync.backoff_base", def.Sync.BackoffBase)
	v.SetDefault("sync.stale_after", def.Sync.StaleAfter)
	v.SetDefault("sync.probe_interval", def.Sync.ProbeInterval)
	v.SetDefault("watch.enabled", def.Watch.Enabled)
	v.SetDefault("watch.debounce", def.Watch.Debounce)
	v.SetDefault("dashboard.enabled", def.Dashboard.Enabled)
	v.SetDefault("dashboard.port", def.Dashboard.Port)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to dir's config file. Used by init and
// login, which must persist server URL and credentials.
func Save(dir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// FindDir walks up from the working directory looking for a .fieldsync
// directory. Returns "" when none exists.
func FindDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return FindDirFrom(dir)
}

// FindDirFrom walks up from start looking for a .fieldsync directory.
func FindDirFrom(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// InitDir creates a .fieldsync directory under root and writes a
// default config file if none exists. Returns the directory path.
func InitDir(root string, cfg *Config) (string, error) {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return dir, nil
	}
	if err := Save(dir, cfg); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the database path inside a .fieldsync directory.
func DBPath(dir string) string {
	return filepath.Join(dir, DBFileName)
}
