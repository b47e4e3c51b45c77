package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/tui"
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Manage aliases for spaces, folders and lists",
}

var mapAddCmd = &cobra.Command{
	Use:   "add <remote-id>",
	Short: "Discover a space, folder or list and store it under an alias",
	Long: `Discover the structure under a remote entity and store it under an alias.

Examples:
  clickmirror map add 901234 --type space --alias web
  clickmirror map add 45678 --type list        # alias derived from the name`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		alias, _ := cmd.Flags().GetString("alias")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			m, err := a.registry.Map(ctx, args[0], models.NodeType(typ), alias)
			if err != nil {
				return err
			}
			fmt.Printf("Mapped %s %s (%s) as %q\n", m.Type, m.Name, m.RemoteID, m.Alias)
			return nil
		})
	},
}

var mapRmCmd = &cobra.Command{
	Use:     "rm <alias>",
	Aliases: []string{"remove"},
	Short:   "Remove an alias",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.registry.Unmap(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %q\n", args[0])
			return nil
		})
	},
}

var mapLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List aliases",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			fmt.Println(tui.RenderMappings(a.registry.List()))
			return nil
		})
	},
}

var mapRefreshCmd = &cobra.Command{
	Use:   "refresh [alias]",
	Short: "Re-discover the structure of one alias, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if len(args) == 1 {
				m, err := a.registry.Refresh(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Refreshed %q\n", m.Alias)
				return nil
			}
			// the workspace and space listings go too, not just the aliases
			a.cache.InvalidateAll()
			n, err := a.registry.RefreshAll(ctx)
			fmt.Printf("Refreshed %d aliases\n", n)
			return err
		})
	},
}

var mapExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write all aliases as YAML to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var w io.Writer = os.Stdout
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.registry.Export(w)
		})
	},
}

var mapImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Load aliases from a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := a.registry.Import(ctx, r)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d aliases\n", n)
			return nil
		})
	},
}

func init() {
	mapAddCmd.Flags().StringP("type", "t", string(models.NodeList), "Entity type: space, folder or list")
	mapAddCmd.Flags().StringP("alias", "a", "", "Alias (default: derived from the entity name)")

	mapCmd.AddCommand(mapAddCmd)
	mapCmd.AddCommand(mapRmCmd)
	mapCmd.AddCommand(mapLsCmd)
	mapCmd.AddCommand(mapRefreshCmd)
	mapCmd.AddCommand(mapExportCmd)
	mapCmd.AddCommand(mapImportCmd)
}
