package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/period"
	"github.com/emilianohg/clickmirror/internal/registry"
	"github.com/emilianohg/clickmirror/internal/structure"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

type Kind string

const (
	KindTime     Kind = "time"
	KindMissing  Kind = "missing-estimates"
	KindRatios   Kind = "ratios"
	KindOvertime Kind = "overtime"
	KindLowHours Kind = "low-hours"
	KindAccuracy Kind = "accuracy"
	KindStatus   Kind = "status"
	KindWorkload Kind = "workload"
	KindStale    Kind = "stale"
	KindAtRisk   Kind = "at-risk"
)

func Kinds() []Kind {
	return []Kind{
		KindTime, KindMissing, KindRatios, KindOvertime, KindLowHours, KindAccuracy,
		KindStatus, KindWorkload, KindStale, KindAtRisk,
	}
}

// needsPeriod lists the kinds that are meaningless without a period.
var needsPeriod = map[Kind]bool{KindTime: true, KindOvertime: true, KindLowHours: true}

// usesEntries lists the kinds that read time entries when given a period.
var usesEntries = map[Kind]bool{KindTime: true, KindMissing: true, KindOvertime: true, KindLowHours: true}

const defaultPeriod = string(period.ThisWeek)

type Request struct {
	Kind  Kind   `json:"kind" validate:"required,oneof=time missing-estimates ratios overtime low-hours accuracy status workload stale at-risk"`
	Scope string `json:"scope"`
	period.Spec
	GroupBy     string `json:"group_by" validate:"omitempty,oneof=person project list"`
	IncludeDone bool   `json:"include_done"`
}

type PeriodInfo struct {
	Kind  period.Kind `json:"kind"`
	Start string      `json:"start"`
	End   string      `json:"end"`
}

const (
	SourceMirror = "mirror"
	SourceLive   = "live"
)

// Report is the result of one aggregation. Exactly one of the per-kind
// sections is set.
type Report struct {
	Kind        Kind              `json:"kind"`
	Scope       registry.Resolved `json:"scope"`
	Period      *PeriodInfo       `json:"period,omitempty"`
	Source      string            `json:"source"`
	Tasks       int               `json:"tasks"`
	GeneratedAt time.Time         `json:"generated_at"`
	Partial     bool              `json:"partial"`
	Warnings    []string          `json:"warnings,omitempty"`

	Time     *TimeReport     `json:"time,omitempty"`
	Missing  *MissingReport  `json:"missing,omitempty"`
	Ratios   *RatioReport    `json:"ratios,omitempty"`
	Overtime *OvertimeReport `json:"overtime,omitempty"`
	LowHours *LowHoursReport `json:"low_hours,omitempty"`
	Accuracy *AccuracyReport `json:"accuracy,omitempty"`
	Status   *StatusReport   `json:"status,omitempty"`
	Workload *WorkloadReport `json:"workload,omitempty"`
	Stale    *StaleReport    `json:"stale,omitempty"`
	AtRisk   *AtRiskReport   `json:"at_risk,omitempty"`
}

type Resolver interface {
	Resolve(ctx context.Context, ref string) (registry.Resolved, error)
}

type Hierarchy interface {
	Hierarchy(ctx context.Context, scope structure.Scope) (*structure.Snapshot, error)
}

// Live is the part of the API client reports read from.
type Live interface {
	TaskFetcher
	TasksForLists(ctx context.Context, listIDs []string, q clickup.TaskQuery, workers int) ([]clickup.TaskDTO, error)
	TimeEntriesBatch(ctx context.Context, taskIDs []string, workers int) (map[string][]clickup.TimeEntryDTO, map[string]error)
	TeamTimeEntries(ctx context.Context, start, end time.Time, assignees []string) ([]clickup.TimeEntryDTO, error)
}

// Mirror is the synced store. Any nil field disables mirror reads.
type Mirror struct {
	Tasks interface {
		GetByLists(ctx context.Context, listIDs []string) ([]models.Task, error)
		CountByLists(ctx context.Context, listIDs []string) (int, error)
		GetByIDs(ctx context.Context, ids []string) (map[string]*models.Task, error)
	}
	Entries interface {
		GetByListsAndRange(ctx context.Context, listIDs []string, from, to time.Time) ([]models.TimeEntry, error)
	}
	State interface {
		Get(ctx context.Context) (*models.SyncState, error)
	}
}

func (m Mirror) usable() bool {
	return m.Tasks != nil && m.Entries != nil && m.State != nil
}

type Service struct {
	resolver Resolver
	cache    Hierarchy
	live     Live
	mirror   Mirror
	cfg      config.ReportsConfig
	loc      *time.Location
	workers  int
	logger   *slog.Logger
	validate *validator.Validate
	parents  singleflight.Group
	now      func() time.Time
}

type ServiceOptions struct {
	Resolver Resolver
	Cache    Hierarchy
	Live     Live
	Mirror   Mirror
	Reports  config.ReportsConfig
	Location *time.Location
	Workers  int
	Logger   *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Reports.InlineTaskLimit <= 0 {
		opts.Reports.InlineTaskLimit = config.DefaultConfig().Reports.InlineTaskLimit
	}
	return &Service{
		resolver: opts.Resolver,
		cache:    opts.Cache,
		live:     opts.Live,
		mirror:   opts.Mirror,
		cfg:      opts.Reports,
		loc:      opts.Location,
		workers:  opts.Workers,
		logger:   opts.Logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Plan holds what a report needs before any task is loaded. Building one
// touches only the structure cache and the mirror, never the task API.
type Plan struct {
	svc      *Service
	req      Request
	scope    registry.Resolved
	rng      *period.Range
	locs     map[string]structure.ListLocation
	listIDs  []string
	size     int
	tasks    []TaskInput
	source   string
	warnings []string
	partial  bool
}

// Size is the mirrored task count of the scope, or -1 when the tasks will
// be fetched live and their number is unknown until Execute.
func (p *Plan) Size() int { return p.size }

// Inline reports whether the plan is not known to be large. Live plans
// count as inline: the job manager's quick wait bounds how long a caller
// waits for them before getting a handle.
func (p *Plan) Inline() bool { return p.size < p.svc.cfg.InlineTaskLimit }

func (p *Plan) Lists() int { return len(p.listIDs) }

func (p *Plan) Request() Request { return p.req }

func (p *Plan) Scope() registry.Resolved { return p.scope }

// Run plans and executes req in one go.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	p, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx)
}

// Plan validates req, resolves its scope and period, finds the scope's
// lists and picks the task source.
func (s *Service) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid report request: %w", err)
	}
	if req.Kind == KindTime {
		if _, err := ParseGroupBy(req.GroupBy); err != nil {
			return nil, err
		}
	}

	p := &Plan{svc: s, req: req}

	if req.Spec.Kind == "" && needsPeriod[req.Kind] {
		p.req.Spec.Kind = defaultPeriod
	}
	if p.req.Spec.Kind != "" {
		r, err := period.Parse(p.req.Spec, s.now(), s.loc)
		if err != nil {
			return nil, err
		}
		p.rng = &r
	}

	scope, err := s.resolver.Resolve(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	p.scope = scope

	if err := s.locate(ctx, p); err != nil {
		return nil, err
	}
	if len(p.listIDs) == 0 {
		return nil, fmt.Errorf("%w: %s has no lists", registry.ErrUnknownScope, scope.Name)
	}

	if err := s.pickSource(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) locate(ctx context.Context, p *Plan) error {
	p.locs = make(map[string]structure.ListLocation)

	var scopes []structure.Scope
	if p.scope.Scope.Type == models.NodeWorkspace {
		ws, err := s.cache.Hierarchy(ctx, structure.WorkspaceScope())
		if err != nil {
			return fmt.Errorf("failed to list spaces: %w", err)
		}
		for _, sp := range ws.Root.Children {
			scopes = append(scopes, structure.SpaceScope(sp.ID))
		}
	} else {
		scopes = []structure.Scope{p.scope.Scope}
	}

	var failed int
	for _, sc := range scopes {
		snap, err := s.cache.Hierarchy(ctx, sc)
		if err != nil {
			if len(scopes) == 1 {
				return fmt.Errorf("failed to discover %s: %w", sc.Key(), err)
			}
			failed++
			p.warn(fmt.Sprintf("skipped %s: %v", sc.Key(), err))
			continue
		}
		if snap.Stale {
			p.warnOnly(fmt.Sprintf("structure of %s is older than its TTL", sc.Key()))
		}
		locs := snap.Locations()
		for _, id := range snap.ListIDs() {
			if _, dup := p.locs[id]; dup {
				continue
			}
			p.locs[id] = locs[id]
			p.listIDs = append(p.listIDs, id)
		}
	}
	if failed > 0 && failed == len(scopes) {
		return fmt.Errorf("failed to discover any space of the workspace")
	}
	return nil
}

// mirrorFresh reports whether the last successful sync is recent enough
// to answer from the mirror.
func (s *Service) mirrorFresh(ctx context.Context) bool {
	if !s.mirror.usable() {
		return false
	}
	st, err := s.mirror.State.Get(ctx)
	if err != nil || st.LastSuccessAt == nil {
		return false
	}
	maxAge := s.cfg.MirrorMaxAge.Duration
	if maxAge <= 0 {
		return true
	}
	return s.now().Sub(*st.LastSuccessAt) <= maxAge
}

// pickSource answers from the mirror when it is fresh and holds tasks for
// the scope, sizing the plan by its row count.
func (s *Service) pickSource(ctx context.Context, p *Plan) error {
	p.size = -1
	p.source = SourceLive
	if s.mirrorFresh(ctx) {
		n, err := s.mirror.Tasks.CountByLists(ctx, p.listIDs)
		if err != nil {
			s.logger.Warn("mirror count failed, falling back to the API", "error", err)
		} else if n > 0 {
			p.size = n
			p.source = SourceMirror
			return nil
		}
	}
	if s.live == nil {
		return fmt.Errorf("no fresh mirror and no API client configured")
	}
	return nil
}

func (s *Service) loadTasks(ctx context.Context, p *Plan) error {
	if p.source == SourceMirror {
		rows, err := s.mirror.Tasks.GetByLists(ctx, p.listIDs)
		if err == nil {
			for _, t := range rows {
				p.tasks = append(p.tasks, InputFromModel(t))
			}
			return nil
		}
		if s.live == nil {
			return fmt.Errorf("failed to read mirrored tasks: %w", err)
		}
		s.logger.Warn("mirror read failed, falling back to the API", "error", err)
		p.source = SourceLive
	}

	dtos, err := s.live.TasksForLists(ctx, p.listIDs, clickup.TaskQuery{}, s.workers)
	if err != nil {
		return fmt.Errorf("failed to fetch tasks: %w", err)
	}
	for _, d := range dtos {
		p.tasks = append(p.tasks, InputFromDTO(d))
	}
	p.source = SourceLive
	return nil
}

// Execute builds the report.
func (p *Plan) Execute(ctx context.Context) (*Report, error) {
	s := p.svc
	ctx, span := telemetry.Tracer("analytics").Start(ctx, "report."+string(p.req.Kind))
	defer span.End()

	if err := s.loadTasks(ctx, p); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("scope", p.scope.Scope.Key()),
		attribute.Int("tasks", len(p.tasks)),
		attribute.String("source", p.source),
	)

	tree := NewTree(ValuesReported, p.tasks)
	s.resolveParents(ctx, p, tree)

	rep := &Report{
		Kind:        p.req.Kind,
		Scope:       p.scope,
		Source:      p.source,
		Tasks:       tree.Len(),
		GeneratedAt: s.now().UTC(),
	}
	if p.rng != nil {
		rep.Period = &PeriodInfo{Kind: p.rng.Kind, Start: p.rng.Start.Format(time.DateOnly), End: p.rng.LastDay().Format(time.DateOnly)}
	}

	var entries []models.TimeEntry
	if p.rng != nil && usesEntries[p.req.Kind] {
		var err error
		if entries, err = s.entries(ctx, p, tree); err != nil {
			return nil, err
		}
	}

	switch p.req.Kind {
	case KindTime:
		g, _ := ParseGroupBy(p.req.GroupBy)
		r := tree.TimeReport(entries, g, p.locs)
		rep.Time = &r
	case KindMissing:
		r := tree.MissingEstimates(MissingOptions{IncludeDone: p.req.IncludeDone, Period: p.rng != nil, Entries: entries})
		rep.Missing = &r
	case KindRatios:
		r := tree.SuspiciousRatios(s.cfg.RatioLow, s.cfg.RatioHigh)
		rep.Ratios = &r
	case KindOvertime:
		r := tree.Overtime(entries, s.cfg.MinOverage.Duration)
		rep.Overtime = &r
	case KindLowHours:
		threshold := s.cfg.LowHoursThreshold.Duration
		if threshold <= 0 {
			threshold = 8 * time.Hour
		}
		r := LowHours(entries, *p.rng, threshold)
		rep.LowHours = &r
	case KindAccuracy:
		r := tree.EstimationAccuracy(s.cfg.RatioLow, s.cfg.RatioHigh)
		rep.Accuracy = &r
	case KindStatus:
		r := tree.StatusDistribution()
		rep.Status = &r
	case KindWorkload:
		r := tree.Workload()
		rep.Workload = &r
	case KindStale:
		r := tree.Stale(s.now(), s.cfg.StaleAfter.Duration)
		rep.Stale = &r
	case KindAtRisk:
		r := tree.AtRisk(s.now(), s.cfg.RiskWindow.Duration)
		rep.AtRisk = &r
	default:
		return nil, fmt.Errorf("unknown report kind %q", p.req.Kind)
	}

	for id, err := range tree.Unresolved() {
		p.warn(fmt.Sprintf("parent %s unresolved: %v", id, err))
	}
	sort.Strings(p.warnings)
	rep.Warnings = p.warnings
	rep.Partial = p.partial || tree.Partial()
	span.SetAttributes(attribute.Bool("partial", rep.Partial))
	return rep, nil
}

// resolveParents fills in parents living outside the scope, from the
// mirror first and then the API.
func (s *Service) resolveParents(ctx context.Context, p *Plan, tree *Tree) {
	if p.source == SourceMirror {
		for {
			missing := tree.missingParents()
			if len(missing) == 0 {
				break
			}
			found, err := s.mirror.Tasks.GetByIDs(ctx, missing)
			if err != nil || len(found) == 0 {
				break
			}
			for _, t := range found {
				tree.AddExternal(InputFromModel(*t))
			}
		}
	}
	if s.live != nil {
		tree.ResolveParents(ctx, &sharedFetcher{live: s.live, group: &s.parents}, s.workers)
	}
}

// sharedFetcher collapses concurrent fetches of one parent across reports.
type sharedFetcher struct {
	live  TaskFetcher
	group *singleflight.Group
}

func (f *sharedFetcher) Task(ctx context.Context, id string) (*clickup.TaskDTO, error) {
	v, err, _ := f.group.Do(id, func() (any, error) {
		return f.live.Task(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*clickup.TaskDTO), nil
}

// entries returns the time logged in the plan's period on the scope's
// tasks.
func (s *Service) entries(ctx context.Context, p *Plan, tree *Tree) ([]models.TimeEntry, error) {
	r := *p.rng
	if p.source == SourceMirror {
		out, err := s.mirror.Entries.GetByListsAndRange(ctx, p.listIDs, r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("failed to read time entries: %w", err)
		}
		return out, nil
	}

	dtos, err := s.live.TeamTimeEntries(ctx, r.Start, r.End, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("team time entries unavailable, fetching per task", "error", err)
		return s.entriesPerTask(ctx, p, tree)
	}

	var out []models.TimeEntry
	for _, dto := range dtos {
		e := dto.Model("")
		if e.TaskID == "" || !r.Contains(e.Start) {
			continue
		}
		if task, ok := tree.inScope(e.TaskID); ok {
			out = append(out, fillEntry(e, task))
			continue
		}
		if loc, ok := p.locs[e.ListID]; ok {
			e.ListName = loc.ListName
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// entriesPerTask reads each timed task's intervals and keeps those in the
// period.
func (s *Service) entriesPerTask(ctx context.Context, p *Plan, tree *Tree) ([]models.TimeEntry, error) {
	r := *p.rng
	var ids []string
	for _, t := range tree.Tasks() {
		if t.Tracked > 0 {
			ids = append(ids, t.ID)
		}
	}
	batch, errs := s.live.TimeEntriesBatch(ctx, ids, s.workers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.TimeEntry
	for _, id := range ids {
		if err, failed := errs[id]; failed {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			p.warn(fmt.Sprintf("time entries of task %s unavailable: %v", id, err))
			continue
		}
		task, _ := tree.Task(id)
		for _, dto := range batch[id] {
			e := dto.Model(id)
			if !r.Contains(e.Start) {
				continue
			}
			out = append(out, fillEntry(e, task))
		}
	}
	return out, nil
}

func fillEntry(e models.TimeEntry, task TaskInput) models.TimeEntry {
	if e.TaskTitle == "" {
		e.TaskTitle = task.Name
	}
	if e.ListID == "" || e.ListID == task.ListID {
		e.ListID, e.ListName = task.ListID, task.ListName
	}
	return e
}

// warn records a warning that makes the report partial.
func (p *Plan) warn(msg string) {
	p.partial = true
	p.warnings = append(p.warnings, msg)
}

func (p *Plan) warnOnly(msg string) {
	p.warnings = append(p.warnings, msg)
}
