package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/linestore"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the todo file and cache status",
	Long: `Display the configured todo file and what the cache knows about it.

Shows:
  - Todo file location and line count
  - Identity scheme
  - Cache location, item count and last full sync
  - Last health report and error from the engine
  - A leftover staging file from an interrupted rewrite, if any`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s todosync status\n\n", ui.RenderAccent("📊"))

		store := linestore.New(cfg.TodoFile)
		lines, err := store.CountLines()
		if err != nil {
			fmt.Fprintf(out, "Todo file: %s %s\n", cfg.TodoFile, ui.RenderWarn("(unavailable)"))
		} else {
			fmt.Fprintf(out, "Todo file: %s (%d lines)\n", cfg.TodoFile, lines)
		}
		fmt.Fprintf(out, "Scheme: %s\n", cfg.IdentityScheme)

		if store.StaleTemp() {
			fmt.Fprintf(out, "%s Stale staging file %s from an interrupted write\n",
				ui.RenderWarn("⚠"), store.TempPath())
		}

		if _, err := os.Stat(cfg.Cache.Path); os.IsNotExist(err) {
			fmt.Fprintf(out, "\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Fprintf(out, "   Run 'todosync list' to create it\n\n")
			return nil
		}

		a, err := openAppWithConfig(cfg, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		count, err := a.cache.GetItemCount(ctx, a.col.Path)
		if err != nil {
			return err
		}
		_, syncedAt, err := a.cache.GetCollection(ctx, a.col.Path)
		if err != nil {
			syncedAt = time.Time{}
		}
		hs, err := a.cache.LastStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\nCache: %s\n", cfg.Cache.Path)
		fmt.Fprintf(out, "Items: %d\n", count)
		if syncedAt.IsZero() {
			fmt.Fprintf(out, "Last sync: never\n")
		} else {
			fmt.Fprintf(out, "Last sync: %s\n", syncedAt.Local().Format("2006-01-02 15:04:05"))
		}

		switch hs.Status {
		case todosync.StatusBroken.String():
			fmt.Fprintf(out, "Status: %s %s\n", ui.RenderFail(hs.Status), hs.Message)
		default:
			fmt.Fprintf(out, "Status: %s\n", ui.RenderPass(hs.Status))
		}
		if hs.LastError != "" {
			fmt.Fprintf(out, "Last error: %s\n", hs.LastError)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
