package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/todosync/internal/cache"
	"github.com/mschirtzinger/todosync/internal/schema"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "items",
	Short:   "List the items of the todo file",
	Long: `Scan the todo file and print one item per line with its identifier.

The scan also refreshes the cache. With --cached the cache is read instead
and the file is not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cached, _ := cmd.Flags().GetBool("cached")

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var items []*schema.Item
		if cached {
			items, err = a.cache.ListItems(cmd.Context(), a.col.Path)
		} else {
			items, err = a.engine.Scan(cmd.Context())
		}
		if err != nil {
			return err
		}

		return printItems(cmd.OutOrStdout(), format, items)
	},
}

func printItems(w io.Writer, format string, items []*schema.Item) error {
	if items == nil {
		items = []*schema.Item{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(items); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		for _, item := range items {
			fmt.Fprintf(w, "%s  %s\n", ui.RenderMuted(item.Identifier()), item.Summary())
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

var addCmd = &cobra.Command{
	Use:     "add <summary>...",
	GroupID: "items",
	Short:   "Append a task to the todo file",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := joinSummary(args)
		if err != nil {
			return err
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		item := &schema.Item{Payload: &schema.Todo{Summary: summary}}
		created, err := a.engine.Create(cmd.Context(), nil, item)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Added %s\n", ui.RenderPass("✓"), ui.RenderMuted(created.Identifier()))
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id> <summary>...",
	GroupID: "items",
	Short:   "Replace the text of a task",
	Long: `Replace the line addressed by <id> with a new summary.

<id> is either a full remote id or the identifier printed by 'todosync list'.
Under the content-hash scheme the item gets a new identifier.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := joinSummary(args[1:])
		if err != nil {
			return err
		}

		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		item := &schema.Item{
			RemoteID: a.remoteID(args[0]),
			Payload:  &schema.Todo{Summary: summary},
		}
		updated, err := a.engine.Update(cmd.Context(), item)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s\n", ui.RenderPass("✓"), ui.RenderMuted(updated.Identifier()))
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	GroupID: "items",
	Short:   "Remove a task from the todo file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		item := &schema.Item{RemoteID: a.remoteID(args[0])}
		if err := a.engine.Delete(cmd.Context(), item); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %s\n", ui.RenderPass("✓"), ui.RenderMuted(item.Identifier()))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "items",
	Short:   "Show a single item",
	Long: `Look an item up in the cache and print it.

If the cache does not know the id, the file is rescanned once first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		remoteID := a.remoteID(args[0])

		item, err := a.cache.GetItem(ctx, remoteID)
		if errors.Is(err, cache.ErrItemNotFound) {
			if _, scanErr := a.engine.Scan(ctx); scanErr != nil {
				return scanErr
			}
			item, err = a.cache.GetItem(ctx, remoteID)
		}
		if err != nil {
			return err
		}

		item, err = a.engine.RetrieveItem(ctx, item)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n\n", ui.RenderAccent(item.Summary()))
		fmt.Fprintf(out, "Identifier: %s\n", item.Identifier())
		fmt.Fprintf(out, "Remote ID:  %s\n", item.RemoteID)
		fmt.Fprintf(out, "Line:       %d\n", item.Position+1)
		fmt.Fprintf(out, "Collection: %s\n", item.CollectionKey)
		return nil
	},
}

func init() {
	listCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")
	listCmd.Flags().Bool("cached", false, "Read the cache instead of scanning the file")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(showCmd)
}
