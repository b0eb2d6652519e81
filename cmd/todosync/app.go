package main

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/todosync/internal/cache"
	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/logging"
	"github.com/mschirtzinger/todosync/internal/schema"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// app is what every command works with: settings, logs, the cache and an
// engine registered on the configured todo file.
type app struct {
	cfg    *config.Config
	logs   *logging.Sink
	cache  *cache.DB
	engine *todosync.Engine
	col    *schema.Collection
}

// appOptions adjusts openApp for commands that need more than a one-shot
// engine.
type appOptions struct {
	// watcher replaces the no-op watcher (the daemon passes its FileWatcher).
	watcher todosync.Watcher

	// hosts are added next to the cache.
	hosts []todosync.Host

	// logs replaces the sink built from the config.
	logs *logging.Sink
}

func openApp(opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return openAppWithConfig(cfg, opts)
}

func openAppWithConfig(cfg *config.Config, opts appOptions) (*app, error) {
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}

	logs := opts.logs
	if logs == nil {
		logs = newLogs(cfg, verbose)
	}

	db, err := cache.Open(cfg.Cache.Path, logs.Logger("cache"))
	if err != nil {
		logs.Close()
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	host := todosync.MultiHost(append([]todosync.Host{db}, opts.hosts...))
	engine := todosync.New(opts.watcher, host, &todosync.Config{
		Scheme: scheme,
		Logger: logs.Logger("sync"),
	})

	col, err := engine.Register(cfg.TodoFile)
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logs:   logs,
		cache:  db,
		engine: engine,
		col:    col,
	}, nil
}

func newLogs(cfg *config.Config, stderr bool) *logging.Sink {
	return logging.New(logging.Options{
		Stderr:     stderr,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logs.Logger("cache").Printf("Error: %v", err)
	}
	a.logs.Close()
}

// remoteID accepts either a full remote id or a bare identifier of the
// registered collection.
func (a *app) remoteID(arg string) string {
	if strings.Contains(arg, schema.RemoteIDSeparator) {
		return arg
	}
	return schema.FormatRemoteID(a.col.Path, arg)
}

func joinSummary(args []string) (string, error) {
	summary := strings.TrimSpace(strings.Join(args, " "))
	if summary == "" {
		return "", fmt.Errorf("summary must not be empty")
	}
	return summary, nil
}
