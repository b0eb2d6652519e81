package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Load reads the configuration at path (DefaultPath if empty).
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("TODOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.TodoFile = ExpandHome(cfg.TodoFile)
	cfg.Cache.Path = ExpandHome(cfg.Cache.Path)
	cfg.Log.File = ExpandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("todo_file", d.TodoFile)
	v.SetDefault("identity_scheme", d.IdentityScheme)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("rescan_interval", d.RescanInterval)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// fileConfig is the on-disk TOML layout. Durations are written as strings
// ("100ms") so the file stays hand-editable.
type fileConfig struct {
	TodoFile       string `toml:"todo_file"`
	IdentityScheme string `toml:"identity_scheme"`
	Debounce       string `toml:"debounce"`
	RescanInterval string `toml:"rescan_interval"`

	Cache struct {
		Path string `toml:"path"`
	} `toml:"cache"`

	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`

	Log struct {
		File       string `toml:"file,omitempty"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
}

// Save writes cfg to path as TOML, replacing the file atomically.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var fc fileConfig
	fc.TodoFile = cfg.TodoFile
	fc.IdentityScheme = cfg.IdentityScheme
	fc.Debounce = cfg.Debounce.String()
	fc.RescanInterval = cfg.RescanInterval.String()
	fc.Cache.Path = cfg.Cache.Path
	fc.Dashboard.Port = cfg.Dashboard.Port
	fc.Log.File = cfg.Log.File
	fc.Log.MaxSizeMB = cfg.Log.MaxSizeMB
	fc.Log.MaxBackups = cfg.Log.MaxBackups
	fc.Log.MaxAgeDays = cfg.Log.MaxAgeDays
	fc.Log.Compress = cfg.Log.Compress

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	if _, err := f.WriteString("# todosync configuration\n\n"); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close config: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
