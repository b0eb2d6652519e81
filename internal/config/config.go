// Package config loads and saves todosync settings.
//
// Settings are layered: built-in defaults, then the TOML config file, then
// TODOSYNC_* environment variables (dots become underscores, so cache.path
// is TODOSYNC_CACHE_PATH).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mschirtzinger/todosync/internal/identity"
)

// Config is the full todosync configuration.
type Config struct {
	// TodoFile is the todo.txt file backing the collection.
	TodoFile string `mapstructure:"todo_file"`

	// IdentityScheme is "content-hash" or "positional".
	IdentityScheme string `mapstructure:"identity_scheme"`

	// Debounce is how long the file must stay quiet before a rescan.
	Debounce time.Duration `mapstructure:"debounce"`

	// RescanInterval forces periodic full scans (0 disables).
	RescanInterval time.Duration `mapstructure:"rescan_interval"`

	Cache     CacheConfig     `mapstructure:"cache"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// CacheConfig configures the SQLite item cache.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// DashboardConfig configures the WebSocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	// File is the log file path; empty logs to stderr only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TodoFile:       DefaultTodoFile(),
		IdentityScheme: identity.ContentHash.String(),
		Debounce:       100 * time.Millisecond,
		Cache: CacheConfig{
			Path: DefaultCachePath(),
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Scheme parses IdentityScheme.
func (c *Config) Scheme() (identity.Scheme, error) {
	return identity.ParseScheme(c.IdentityScheme)
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.TodoFile == "" {
		return fmt.Errorf("todo_file must be set")
	}
	if _, err := c.Scheme(); err != nil {
		return fmt.Errorf("invalid identity_scheme: %w", err)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if c.RescanInterval < 0 {
		return fmt.Errorf("rescan_interval must not be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	return nil
}

// DefaultPath returns $XDG_CONFIG_HOME/todosync/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "todosync", "config.toml")
}

// DefaultTodoFile returns ~/todo.txt.
func DefaultTodoFile() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "todo.txt")
}

// DefaultCachePath returns $XDG_DATA_HOME/todosync/cache.db.
func DefaultCachePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "todosync", "cache.db")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
