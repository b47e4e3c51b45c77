package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/db"
	"github.com/emilianohg/clickmirror/internal/repository"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the API token, team and reporting timezone interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
		}

		token := cfg.API.Token
		teamID := cfg.API.TeamID
		timezone := cfg.Reports.Timezone

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("ClickUp API token").
					Description("Personal token, starts with pk_").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return errors.New("token is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Team (workspace) id").
					Description("Leave empty to use the first workspace the token can see").
					Value(&teamID),
				huh.NewInput().
					Title("Reporting timezone").
					Value(&timezone).
					Validate(func(s string) error {
						_, err := time.LoadLocation(s)
						return err
					}),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		cfg.API.Token = strings.TrimSpace(token)
		cfg.API.TeamID = strings.TrimSpace(teamID)
		cfg.Reports.Timezone = timezone
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.EnsureDirectories(); err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return err
		}

		path, _ := config.ConfigPath()
		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.API.Token != "" {
			cfg.API.Token = maskToken(cfg.API.Token)
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and mirror status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			mig, err := db.GetMigrationStatus(a.db)
			if err != nil {
				return err
			}
			state, err := repository.NewSyncStateRepo(a.db).Get(ctx)
			if err != nil {
				return err
			}
			stats, err := repository.NewTaskRepo(a.db).Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Database:   %s (schema %d/%d", a.cfg.DatabasePath, mig.CurrentVersion, mig.LatestVersion)
			if mig.Dirty {
				fmt.Print(", dirty")
			}
			fmt.Println(")")

			last := "never"
			if state.LastSuccessAt != nil {
				last = state.LastSuccessAt.In(a.cfg.Location()).Format("2006-01-02 15:04 MST")
			}
			fmt.Printf("Last sync:  %s (%d runs, last mode %s)\n", last, state.RunCount, orNone(state.LastMode))
			if state.LastError != "" {
				fmt.Printf("Last error: %s\n", state.LastError)
			}
			fmt.Printf("Tasks:      %d live, %d deleted in %d lists\n", stats.Total-stats.Deleted, stats.Deleted, stats.Lists)
			fmt.Printf("Aliases:    %d\n", len(a.registry.List()))
			return nil
		})
	},
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(statusCmd)
}
