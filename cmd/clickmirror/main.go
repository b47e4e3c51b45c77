package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/emilianohg/clickmirror/internal/mirror"
	"github.com/emilianohg/clickmirror/internal/server"
	"github.com/emilianohg/clickmirror/internal/tui"
)

var rootCmd = &cobra.Command{
	Use:   "clickmirror",
	Short: "Workspace mirror and time analytics for ClickUp",
	Long: `Clickmirror keeps a local mirror of a ClickUp workspace and builds
time, estimate and overtime reports from it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isTerminal(os.Stdout) {
			return cmd.Help()
		}
		// Logs go to the error log while the alt screen is up.
		a, err := setup(cmd.Context(), openErrorLog())
		if err != nil {
			return err
		}
		defer a.Close()
		return tui.Run(a.db, a.engine)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull tasks and time entries into the local mirror",
	Long: `Run one sync. Runs are incremental unless a full run is due or
--full is given; full runs also mark tasks gone from the workspace as deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			run := a.engine.Run
			if full {
				run = a.engine.RunFull
			}
			rep, err := run(ctx)
			if rep != nil {
				fmt.Println(tui.RenderRun(rep))
			}
			if errors.Is(err, mirror.ErrSyncInProgress) {
				return nil
			}
			return err
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reports over HTTP and sync on a schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		noSync, _ := cmd.Flags().GetBool("no-sync")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			if !noSync {
				go mirror.NewRunner(a.engine, a.cfg.Sync.Interval.Duration).Start(runCtx)
			}

			srv := server.New(a.reports, a.jobs, a.engine, a.logger.With("component", "server"))
			httpServer := &http.Server{
				Addr:    addr,
				Handler: srv.Engine(),
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting server", "addr", addr, "version", version)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server stopped unexpectedly: %w", err)
				}
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("failed to shutdown server", "error", err)
			}
			a.logger.Info("server stopped")
			return nil
		})
	},
}

var employeesCmd = &cobra.Command{
	Use:   "employees",
	Short: "Refresh workspace members and list them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !offline {
				if _, err := a.engine.SyncEmployees(ctx); err != nil {
					return err
				}
			}
			list, err := a.employees.GetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Println(tui.RenderEmployees(list))
			return nil
		})
	},
}

// withApp wires the components with logs on stderr, runs fn and closes
// everything afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := setup(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func init() {
	syncCmd.Flags().BoolP("full", "f", false, "Force a full run")

	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("no-sync", false, "Do not run scheduled syncs")

	employeesCmd.Flags().Bool("offline", false, "List stored members without calling the API")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(employeesCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err != nil {
		tag := "clickmirror"
		if cmd != nil {
			tag = cmd.Name()
		}
		logError(tag, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
