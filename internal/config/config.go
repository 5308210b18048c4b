// SPDX-License-Identifier: MPL-2.0

// Package config loads the contentvault configuration: file paths,
// archive caps, clone timeout, and watcher tuning. Values come from a
// YAML config file in the platform config directory, overridable via
// CONTENTVAULT_* environment variables; missing values fall back to
// defaults under the platform data directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name, used for config and data paths.
	AppName = "contentvault"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "yaml"
	// envPrefix namespaces environment variable overrides.
	envPrefix = "CONTENTVAULT"
)

// Config holds all settings. Field names map 1:1 onto config file keys.
type Config struct {
	// DatabasePath is the sqlite database file.
	DatabasePath string `mapstructure:"database_path"`
	// UploadDir receives uploaded and generated release archives.
	UploadDir string `mapstructure:"upload_dir"`
	// InboxDir is watched for dropped zip files.
	InboxDir string `mapstructure:"inbox_dir"`
	// ScratchDir hosts per-run extraction directories.
	ScratchDir string `mapstructure:"scratch_dir"`

	// MaxArchiveSize caps the uncompressed size of an uploaded archive.
	MaxArchiveSize int64 `mapstructure:"max_archive_size"`
	// MaxGeneratedSize caps a generated VCS-release archive.
	MaxGeneratedSize int64 `mapstructure:"max_generated_size"`

	// CloneTimeout bounds a single repository clone.
	CloneTimeout time.Duration `mapstructure:"clone_timeout"`
	// SweepInterval is the pause between update sweeps.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// SweepRunsPerMinute caps repository checks per minute.
	SweepRunsPerMinute int `mapstructure:"sweep_runs_per_minute"`
}

// ConfigDir returns the configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on
// macOS, $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the directory for the database and archives:
// $XDG_DATA_HOME (default ~/.local/share) on Linux, the config location
// elsewhere.
func DataDir() (string, error) {
	if runtime.GOOS == "linux" {
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataDir, AppName), nil
	}
	return ConfigDir()
}

// Defaults returns the built-in configuration rooted at dataDir.
func Defaults(dataDir string) Config {
	return Config{
		DatabasePath:       filepath.Join(dataDir, "contentvault.db"),
		UploadDir:          filepath.Join(dataDir, "uploads"),
		InboxDir:           filepath.Join(dataDir, "inbox"),
		ScratchDir:         filepath.Join(dataDir, "scratch"),
		MaxArchiveSize:     300 * 1024 * 1024,
		MaxGeneratedSize:   100 * 1024 * 1024,
		CloneTimeout:       5 * time.Minute,
		SweepInterval:      5 * time.Minute,
		SweepRunsPerMinute: 60,
	}
}

// Load reads the configuration. configFilePath, when non-empty, is used
// exclusively; otherwise the platform config directory and the current
// directory are searched. A missing config file is not an error.
func Load(configFilePath string) (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	defaults := Defaults(dataDir)
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("upload_dir", defaults.UploadDir)
	v.SetDefault("inbox_dir", defaults.InboxDir)
	v.SetDefault("scratch_dir", defaults.ScratchDir)
	v.SetDefault("max_archive_size", defaults.MaxArchiveSize)
	v.SetDefault("max_generated_size", defaults.MaxGeneratedSize)
	v.SetDefault("clone_timeout", defaults.CloneTimeout)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("sweep_runs_per_minute", defaults.SweepRunsPerMinute)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFilePath != "" {
		v.SetConfigFile(configFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFilePath, err)
		}
	} else {
		cfgDir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName(ConfigFileName)
		v.SetConfigType(ConfigFileExt)
		v.AddConfigPath(cfgDir)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// EnsureDirs creates every directory the configuration points at.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		filepath.Dir(c.DatabasePath), c.UploadDir, c.InboxDir, c.ScratchDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
