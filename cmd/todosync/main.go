// Command todosync keeps a todo.txt file in sync with an item collection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/ui"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "Synchronize a todo.txt file with an item collection",
	Long: `todosync exposes each line of a todo.txt file as an item with a stable
remote id, applies item creates, updates and deletes back to the file, and
rescans when the file is edited by someone else.

Items are mirrored into a local SQLite cache so they can be listed and looked
up without touching the file. Run 'todosync daemon' to keep the cache current
while other programs edit the file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "items", Title: "Item Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/todosync/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
