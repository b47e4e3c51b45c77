package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/db"
	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/mirror"
	"github.com/emilianohg/clickmirror/internal/registry"
	"github.com/emilianohg/clickmirror/internal/repository"
	"github.com/emilianohg/clickmirror/internal/structure"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

var version = "dev"

// app holds the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	client    *clickup.Client
	cache     *structure.Cache
	registry  *registry.Registry
	engine    *mirror.Engine
	reports   *analytics.Service
	jobs      *jobs.Manager
	employees *repository.EmployeeRepo

	shutdownTracing func(context.Context) error
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newLogger writes text to a terminal and JSON everywhere else.
func newLogger(w io.Writer, level string, tty bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if tty {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// setup loads config, opens the database and wires every component.
// logOut receives the structured log; the TUI passes the error log file
// so the alt screen stays clean.
func setup(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	tty := false
	if f, ok := logOut.(*os.File); ok {
		tty = isTerminal(f)
	}
	logger := newLogger(logOut, cfg.LogLevel, tty)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracing(os.Stderr, cfg.TraceStdout, version)
	if err != nil {
		return nil, err
	}

	database, err := db.OpenAndMigrate(cfg.DatabasePath)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	apiOpts := clickup.OptionsFromConfig(cfg.API)
	apiOpts.Logger = logger.With("component", "clickup")
	client := clickup.New(apiOpts)

	cache := structure.New(client, cfg.Cache.TTL.Duration, logger.With("component", "structure"))

	mappings := repository.NewMappingRepo(database)
	reg := registry.New(mappings, cache, logger.With("component", "registry"))
	if err := reg.Load(ctx); err != nil {
		database.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	tasks := repository.NewTaskRepo(database)
	entries := repository.NewTimeEntryRepo(database)
	state := repository.NewSyncStateRepo(database)
	employees := repository.NewEmployeeRepo(database)

	syncOpts := mirror.OptionsFromConfig(cfg.Sync)
	syncOpts.Logger = logger.With("component", "sync")
	engine := mirror.NewEngine(client, cache,
		mirror.Store{Tasks: tasks, Employees: employees, State: state}, syncOpts)

	reports := analytics.NewService(analytics.ServiceOptions{
		Resolver: reg,
		Cache:    cache,
		Live:     client,
		Mirror:   analytics.Mirror{Tasks: tasks, Entries: entries, State: state},
		Reports:  cfg.Reports,
		Location: cfg.Location(),
		Workers:  cfg.API.MaxWorkers,
		Logger:   logger.With("component", "reports"),
	})

	jobOpts := jobs.OptionsFromConfig(cfg.Jobs)
	jobOpts.Logger = logger.With("component", "jobs")

	return &app{
		cfg:             cfg,
		logger:          logger,
		db:              database,
		client:          client,
		cache:           cache,
		registry:        reg,
		engine:          engine,
		reports:         reports,
		jobs:            jobs.NewManager(jobOpts),
		employees:       employees,
		shutdownTracing: shutdown,
	}, nil
}

func (a *app) Close() {
	a.jobs.Wait()
	if err := a.shutdownTracing(context.Background()); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
	a.db.Close()
}

// openErrorLog returns the append-only error log, or stderr when it cannot
// be opened.
func openErrorLog() io.Writer {
	logPath, err := config.ErrorLogPath()
	if err != nil {
		return os.Stderr
	}
	if err := config.EnsureDirectories(); err != nil {
		return os.Stderr
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr
	}
	return f
}

// logError appends a tagged line to the error log.
func logError(tag string, err error) {
	w := openErrorLog()
	if f, ok := w.(*os.File); ok && f != os.Stderr {
		defer f.Close()
	}
	fmt.Fprintf(w, "[%s] %v\n", tag, err)
}
