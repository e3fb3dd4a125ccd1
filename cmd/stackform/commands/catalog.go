package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stackform/stackform/pkg/catalog"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the component catalog",
	}

	cmd.AddCommand(newCatalogListCommand())
	cmd.AddCommand(newCatalogShowCommand())
	cmd.AddCommand(newCatalogWatchCommand())

	return cmd
}

func newCatalogWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the catalog directory for definition changes",
		Long: `Watch the catalog directory and report definition documents that
change on disk. The loaded catalog stays fixed for the process
lifetime; a change means a restart is needed to pick it up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			watcher, err := catalog.NewWatcher(env.cfg.CatalogDir, env.logger)
			if err != nil {
				return fmt.Errorf("watching %s: %w", env.cfg.CatalogDir, err)
			}
			defer watcher.Close()

			go func() {
				for path := range watcher.Changes() {
					fmt.Printf("changed: %s\n", path)
				}
			}()

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", env.cfg.CatalogDir)
			if err := watcher.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newCatalogListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the loaded component definitions",
		Long: `List every component definition in the catalog directory. Definitions
with descriptor issues, such as a declared type contradicted by its
enum, are flagged; the contradiction is resolved in the enum's favor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			for _, name := range env.registry.Names() {
				def, _ := env.registry.Get(name)
				fmt.Printf("  %-40s %s\n", name, def.DisplayName)
				for _, issue := range def.Issues {
					fmt.Printf("      issue: %s: %s\n", issue.Field, issue.Message)
				}
			}
			fmt.Printf("\n%d definition(s) loaded\n", env.registry.Len())
			return nil
		},
	}
}

func newCatalogShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <component>",
		Short: "Show one component definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			def, ok := env.registry.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown component type %s", args[0])
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(def)
			}

			fmt.Printf("%s (%s)\n%s\n\nInput fields:\n", def.Name, def.DisplayName, def.Description)

			fields := make([]string, 0, len(def.Input.Properties))
			for name := range def.Input.Properties {
				fields = append(fields, name)
			}
			sort.Strings(fields)

			for _, name := range fields {
				spec := def.Input.Properties[name]
				line := fmt.Sprintf("  %-28s %s", name, spec.EffectiveKind())
				if def.IsRequired(name) {
					line += " (required)"
				}
				if spec.Immutable {
					line += " (immutable)"
				}
				if spec.Default != nil {
					line += fmt.Sprintf(" default=%v", spec.Default)
				}
				fmt.Println(line)
			}

			if len(def.Props) > 0 {
				fmt.Println("\nOutput props:")
				props := make([]string, 0, len(def.Props))
				for name := range def.Props {
					props = append(props, name)
				}
				sort.Strings(props)
				for _, name := range props {
					fmt.Printf("  %-28s %s\n", name, def.Props[name].Type)
				}
			}
			return nil
		},
	}
}
