package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/identity"
	"github.com/mschirtzinger/todosync/internal/ui"
)

var configureCmd = &cobra.Command{
	Use:     "configure",
	GroupID: "sync",
	Short:   "Choose the todo file and identity scheme",
	Long: `Open a settings dialog for the todo file path and identity scheme.

If the path and scheme are unchanged nothing happens. Otherwise the config
file is saved and the collection is resynchronized from the new settings.

Pass --todo-file and/or --scheme to skip the dialog.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		todoFile, _ := cmd.Flags().GetString("todo-file")
		scheme, _ := cmd.Flags().GetString("scheme")

		if !cmd.Flags().Changed("todo-file") && !cmd.Flags().Changed("scheme") {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("no terminal for the settings dialog; pass --todo-file or --scheme")
			}
			todoFile, scheme, err = runSettingsForm(cfg)
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			if err != nil {
				return err
			}
		}

		result, err := applySettings(cmd.Context(), cfg, todoFile, scheme)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !result.changed {
			fmt.Fprintf(out, "%s No changes\n", ui.RenderMuted("·"))
			return nil
		}
		fmt.Fprintf(out, "%s Saved %s\n", ui.RenderPass("✓"), result.configFile)
		fmt.Fprintf(out, "   Todo file: %s\n", result.todoFile)
		fmt.Fprintf(out, "   Scheme: %s\n", result.scheme)
		fmt.Fprintf(out, "   Items: %d\n", result.items)
		return nil
	},
}

// runSettingsForm asks for the todo file and scheme, starting from the
// current settings.
func runSettingsForm(cfg *config.Config) (string, string, error) {
	todoFile := cfg.TodoFile
	if todoFile == "" {
		todoFile = config.DefaultTodoFile()
	}
	scheme := cfg.IdentityScheme

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Todo file").
				Description("The todo.txt file backing the collection").
				Value(&todoFile).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("path must not be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Identity scheme").
				Description("How items keep their identifiers across edits").
				Options(
					huh.NewOption("Content hash (stable while the text is unchanged)", identity.ContentHash.String()),
					huh.NewOption("Line position (stable while lines stay in place)", identity.Positional.String()),
				).
				Value(&scheme),
		),
	)

	if err := form.Run(); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(todoFile), scheme, nil
}

type settingsResult struct {
	changed    bool
	configFile string
	todoFile   string
	scheme     identity.Scheme
	items      int
}

// applySettings saves a new todo file and scheme and resynchronizes.
// Empty arguments keep the current value.
func applySettings(ctx context.Context, cfg *config.Config, todoFile, schemeName string) (*settingsResult, error) {
	oldScheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}

	next := *cfg
	if todoFile != "" {
		next.TodoFile = config.ExpandHome(todoFile)
	}
	newScheme := oldScheme
	if schemeName != "" {
		if newScheme, err = identity.ParseScheme(schemeName); err != nil {
			return nil, err
		}
	}
	next.IdentityScheme = newScheme.String()

	result := &settingsResult{todoFile: next.TodoFile, scheme: newScheme}
	if next.TodoFile == cfg.TodoFile && newScheme == oldScheme {
		return result, nil
	}

	result.changed = true
	result.configFile = configPath
	if result.configFile == "" {
		result.configFile = config.DefaultPath()
	}
	if err := config.Save(result.configFile, &next); err != nil {
		return nil, err
	}

	if newScheme == oldScheme {
		// Same identities, different file: move the registered collection.
		a, err := openAppWithConfig(cfg, appOptions{})
		if err != nil {
			return nil, err
		}
		defer a.Close()

		if err := a.engine.Reconfigure(ctx, next.TodoFile); err != nil {
			return nil, err
		}
		result.items, err = a.cache.GetItemCount(ctx, a.engine.Collection().Path)
		return result, err
	}

	a, err := openAppWithConfig(&next, appOptions{})
	if err != nil {
		return nil, err
	}
	defer a.Close()

	items, err := a.engine.Scan(ctx)
	if err != nil {
		return nil, err
	}
	result.items = len(items)
	return result, nil
}

func init() {
	configureCmd.Flags().String("todo-file", "", "Todo file path (skips the dialog)")
	configureCmd.Flags().String("scheme", "", "Identity scheme: content-hash or positional (skips the dialog)")

	rootCmd.AddCommand(configureCmd)
}
