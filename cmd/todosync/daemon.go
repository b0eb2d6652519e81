package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/daemon"
	"github.com/mschirtzinger/todosync/internal/dashboard"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the todo file and keep the cache in sync (foreground)",
	Long: `Start the sync daemon in the foreground.

The daemon will:
  1. Register the todo file and scan it into the cache
  2. Watch the file for edits made by other programs
  3. Rescan once the file has been quiet for the debounce interval

With --dashboard, scans, item changes and status are also broadcast over a
WebSocket server:
  ws://localhost:8080/ws

Messages: sync_complete, item_update, status, error, stats.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}

		logs := newLogs(cfg, true)

		watcher, err := daemon.NewFileWatcher(logs.Logger("watcher"))
		if err != nil {
			return err
		}

		var hosts []todosync.Host
		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: logs.Logger("dashboard"),
			})
			hosts = append(hosts, dashboard.NewHandler(server, logs.Logger("dashboard")))
		}

		a, err := openAppWithConfig(cfg, appOptions{watcher: watcher, hosts: hosts, logs: logs})
		if err != nil {
			watcher.Stop()
			logs.Close()
			return err
		}
		defer a.Close()

		d, err := daemon.NewWithConfig(a.engine, watcher, cfg.TodoFile, &daemon.Config{
			DebounceInterval: cfg.Debounce,
			RescanInterval:   cfg.RescanInterval,
			Logger:           a.logs.Logger("daemon"),
		})
		if err != nil {
			watcher.Stop()
			return err
		}

		if server != nil {
			if err := server.Start(); err != nil {
				watcher.Stop()
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Starting todosync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Fprintf(out, "   Todo file: %s\n", cfg.TodoFile)
		fmt.Fprintf(out, "   Scheme: %s\n", a.engine.Scheme())
		fmt.Fprintf(out, "   Cache: %s\n", cfg.Cache.Path)
		if server != nil {
			fmt.Fprintf(out, "   Dashboard: http://%s\n", server.GetAddr())
		}
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			watcher.Stop()
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard")
	daemonCmd.Flags().IntP("port", "p", 8080, "Dashboard port (overrides dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
}
