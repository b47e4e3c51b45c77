// Package mirror keeps the local relational copy of the remote workspace
// in step with the API.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/repository"
	"github.com/emilianohg/clickmirror/internal/structure"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

var ErrSyncInProgress = errors.New("sync already in progress")

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Source is the part of the API client a sync reads from.
type Source interface {
	TeamMembers(ctx context.Context) ([]clickup.UserDTO, error)
	TasksForLists(ctx context.Context, listIDs []string, q clickup.TaskQuery, workers int) ([]clickup.TaskDTO, error)
	TimeEntriesBatch(ctx context.Context, taskIDs []string, workers int) (map[string][]clickup.TimeEntryDTO, map[string]error)
}

type Hierarchy interface {
	Hierarchy(ctx context.Context, scope structure.Scope) (*structure.Snapshot, error)
}

type Store struct {
	Tasks     *repository.TaskRepo
	Employees *repository.EmployeeRepo
	State     *repository.SyncStateRepo
}

type Options struct {
	// FullEvery makes every Nth run a full one.
	FullEvery int
	// Overlap is subtracted from the last success when selecting tasks
	// for an incremental run.
	Overlap time.Duration
	Workers int
	Logger  *slog.Logger
}

func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{FullEvery: cfg.FullEvery, Overlap: cfg.Overlap.Duration, Workers: cfg.Workers}
}

type Engine struct {
	source  Source
	cache   Hierarchy
	store   Store
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool
}

func NewEngine(source Source, cache Hierarchy, store Store, opts Options) *Engine {
	if opts.FullEvery <= 0 {
		opts.FullEvery = 10
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Workers <= 0 {
		opts.Workers = 12
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		source: source,
		cache:  cache,
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Running reports whether a run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

type RunReport struct {
	Run      int64         `json:"run"`
	Mode     Mode          `json:"mode"`
	Since    *time.Time    `json:"since,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Lists    int           `json:"lists"`
	Fetched  int           `json:"fetched"`
	Upserted int           `json:"upserted"`
	Failed   int           `json:"failed"`
	Entries  int           `json:"entries"`
	Deleted  int64         `json:"deleted"`
	Skipped  bool          `json:"skipped"`
}

// Run performs one sync, full or incremental by schedule. A call made
// while another run is active returns immediately with Skipped set and
// ErrSyncInProgress.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	return e.run(ctx, false)
}

// RunFull forces a full run.
func (e *Engine) RunFull(ctx context.Context) (*RunReport, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, force bool) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		telemetry.SyncRuns.WithLabelValues("", "skipped").Inc()
		return &RunReport{Skipped: true}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, span := telemetry.Tracer("mirror").Start(ctx, "sync.run")
	defer span.End()

	rep := &RunReport{Started: e.now()}

	state, err := e.store.State.Get(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to read sync state: %w", err)
	}
	rep.Mode = e.selectMode(state, force)
	if rep.Mode == ModeIncremental {
		since := state.LastSuccessAt.Add(-e.opts.Overlap)
		rep.Since = &since
	}
	span.SetAttributes(attribute.String("mode", string(rep.Mode)))

	if rep.Run, err = e.store.State.BeginRun(ctx, string(rep.Mode)); err != nil {
		return rep, fmt.Errorf("failed to record run start: %w", err)
	}

	if err := e.sync(ctx, rep); err != nil {
		telemetry.SyncRuns.WithLabelValues(string(rep.Mode), "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rerr := e.store.State.RecordFailure(context.WithoutCancel(ctx), err.Error()); rerr != nil {
			e.logger.Error("failed to record sync failure", "error", rerr)
		}
		e.logger.Error("sync failed", "run", rep.Run, "mode", rep.Mode, "error", err)
		return rep, err
	}

	if err := e.store.State.RecordSuccess(ctx, rep.Started); err != nil {
		return rep, fmt.Errorf("failed to record sync success: %w", err)
	}
	rep.Duration = e.now().Sub(rep.Started)

	telemetry.SyncRuns.WithLabelValues(string(rep.Mode), "success").Inc()
	telemetry.SyncDuration.Observe(rep.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("fetched", rep.Fetched),
		attribute.Int("failed", rep.Failed),
		attribute.Int64("deleted", rep.Deleted),
	)
	e.logger.Info("sync finished",
		"run", rep.Run, "mode", rep.Mode, "fetched", rep.Fetched, "upserted", rep.Upserted,
		"failed", rep.Failed, "entries", rep.Entries, "deleted", rep.Deleted, "duration", rep.Duration)
	return rep, nil
}

// selectMode picks full when there has been no successful run yet, when
// forced, or when the upcoming run number is a multiple of FullEvery.
func (e *Engine) selectMode(state *models.SyncState, force bool) Mode {
	next := state.RunCount + 1
	if force || state.LastSuccessAt == nil || next%int64(e.opts.FullEvery) == 0 {
		return ModeFull
	}
	return ModeIncremental
}

// sync runs fetch, transform, upsert and, on full runs, deletion. Errors
// returned abort the run; per-task problems are counted instead.
func (e *Engine) sync(ctx context.Context, rep *RunReport) error {
	locs, err := e.lists(ctx)
	if err != nil {
		return err
	}
	listIDs := make([]string, 0, len(locs))
	for id := range locs {
		listIDs = append(listIDs, id)
	}
	rep.Lists = len(listIDs)

	employees, err := e.employeeMap(ctx)
	if err != nil {
		return err
	}

	tasks, err := e.source.TasksForLists(ctx, listIDs, clickup.TaskQuery{UpdatedAfter: rep.Since}, e.opts.Workers)
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}
	rep.Fetched = len(tasks)

	// Tasks with no time skip the fetch; their upsert clears stored entries.
	var timed []string
	for _, t := range tasks {
		if t.TimeSpent > 0 {
			timed = append(timed, t.ID.String())
		}
	}
	entries, entryErrs := e.source.TimeEntriesBatch(ctx, timed, e.opts.Workers)
	if err := ctx.Err(); err != nil {
		return err
	}

	now := e.now()
	seen := make(map[string]struct{}, len(tasks))
	for _, dto := range tasks {
		id := dto.ID.String()
		seen[id] = struct{}{}

		if err := entryErrs[id]; err != nil {
			e.skip(rep, id, fmt.Errorf("time entries: %w", err))
			continue
		}
		task, rows, err := transformTask(dto, entries[id], locs, employees, now)
		if err != nil {
			e.skip(rep, id, err)
			continue
		}
		if err := e.store.Tasks.Upsert(ctx, task, rows); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.skip(rep, id, err)
			continue
		}
		rep.Upserted++
		rep.Entries += len(rows)
		telemetry.SyncTasks.WithLabelValues("upserted").Inc()
	}

	if rep.Mode != ModeFull {
		return nil
	}

	live, err := e.store.Tasks.LiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list mirrored tasks: %w", err)
	}
	var gone []string
	for id := range live {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	if rep.Deleted, err = e.store.Tasks.MarkDeleted(ctx, gone); err != nil {
		return fmt.Errorf("failed to mark deleted tasks: %w", err)
	}
	telemetry.SyncTasks.WithLabelValues("deleted").Add(float64(rep.Deleted))
	return nil
}

func (e *Engine) skip(rep *RunReport, taskID string, err error) {
	rep.Failed++
	telemetry.SyncTasks.WithLabelValues("failed").Inc()
	e.logger.Warn("skipping task", "task_id", taskID, "error", err)
}

// lists discovers every list of every space through the structure cache.
func (e *Engine) lists(ctx context.Context) (map[string]structure.ListLocation, error) {
	ws, err := e.cache.Hierarchy(ctx, structure.WorkspaceScope())
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces: %w", err)
	}

	locs := make(map[string]structure.ListLocation)
	for _, sp := range ws.Root.Children {
		snap, err := e.cache.Hierarchy(ctx, structure.SpaceScope(sp.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to discover space %s: %w", sp.ID, err)
		}
		maps.Copy(locs, snap.Locations())
	}
	return locs, nil
}

// employeeMap refreshes employees from the team, falling back to what is
// already stored when the member listing fails.
func (e *Engine) employeeMap(ctx context.Context) (map[string]int64, error) {
	if _, err := e.SyncEmployees(ctx); err != nil {
		e.logger.Warn("employee refresh failed, using stored employees", "error", err)
	}
	m, err := e.store.Employees.IDMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load employees: %w", err)
	}
	return m, nil
}

// SyncEmployees upserts every team member keyed by remote user id.
func (e *Engine) SyncEmployees(ctx context.Context) (int, error) {
	members, err := e.source.TeamMembers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list team members: %w", err)
	}

	n := 0
	for _, m := range members {
		if _, err := e.store.Employees.Upsert(ctx, m.ID.String(), m.Username, m.Email, m.RoleName()); err != nil {
			return n, fmt.Errorf("failed to save employee %s: %w", m.ID, err)
		}
		n++
	}
	return n, nil
}
