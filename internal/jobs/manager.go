// Package jobs runs expensive operations in the background and hands out
// handles that callers poll a bounded number of times.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotFinished = errors.New("job not finished")
	ErrJobFailed      = errors.New("job failed")
	ErrTooManyJobs    = errors.New("too many active jobs")
)

type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

func (s State) Terminal() bool { return s == StateFinished || s == StateFailed }

func (s State) rank() int {
	switch s {
	case StateQueued:
		return 0
	case StateRunning:
		return 1
	}
	return 2
}

// Func is the work a job performs. The context is never cancelled by the
// manager.
type Func func(ctx context.Context) (any, error)

// Status is a point-in-time view of a job. Result is set only when the
// job finished and Error only when it failed.
type Status struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       State      `json:"status"`
	PollCount   int        `json:"poll_count"`
	StopPolling bool       `json:"stop_polling,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type job struct {
	id        string
	name      string
	state     State
	polls     int
	result    any
	err       string
	created   time.Time
	started   *time.Time
	finished  *time.Time
	retrieved bool
	done      chan struct{}
}

type Options struct {
	Workers  int
	MaxPolls int
	// QuickWait bounds how long Dispatch waits before handing back a handle.
	QuickWait time.Duration
	// AwaitWait is the ceiling for Await.
	AwaitWait time.Duration
	Retention time.Duration
	MaxJobs   int
	Logger    *slog.Logger
}

func OptionsFromConfig(cfg config.JobsConfig) Options {
	return Options{
		Workers:   cfg.Workers,
		MaxPolls:  cfg.MaxPolls,
		QuickWait: cfg.QuickWait.Duration,
		AwaitWait: cfg.AwaitWait.Duration,
		Retention: cfg.Retention.Duration,
		MaxJobs:   cfg.MaxJobs,
	}
}

type Manager struct {
	opts   Options
	logger *slog.Logger
	sem    *semaphore.Weighted
	now    func() time.Time
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

func NewManager(opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 5
	}
	if opts.AwaitWait <= 0 {
		opts.AwaitWait = 50 * time.Second
	}
	if opts.QuickWait < 0 {
		opts.QuickWait = 0
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger,
		sem:    semaphore.NewWeighted(int64(opts.Workers)),
		now:    time.Now,
		jobs:   make(map[string]*job),
	}
}

// SetClock replaces the time source used for timestamps and retention.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) MaxPolls() int { return m.opts.MaxPolls }

// Submit queues fn and returns its id without waiting. At most Workers
// jobs run at once; the rest stay queued.
func (m *Manager) Submit(name string, fn Func) (string, error) {
	m.mu.Lock()
	m.sweepLocked()
	if len(m.jobs) >= m.opts.MaxJobs {
		m.mu.Unlock()
		return "", ErrTooManyJobs
	}

	j := &job{
		id:      uuid.NewString(),
		name:    name,
		state:   StateQueued,
		created: m.now(),
		done:    make(chan struct{}),
	}
	m.jobs[j.id] = j
	m.mu.Unlock()

	telemetry.JobTransitions.WithLabelValues(string(StateQueued)).Inc()
	telemetry.JobsActive.Inc()
	m.logger.Debug("job queued", "job_id", j.id, "name", name)

	m.wg.Add(1)
	go m.run(j, fn)
	return j.id, nil
}

func (m *Manager) run(j *job, fn Func) {
	defer m.wg.Done()

	ctx := context.Background()
	// Acquire cannot fail on a background context.
	_ = m.sem.Acquire(ctx, 1)
	defer m.sem.Release(1)

	m.transition(j, StateRunning, nil, "")

	ctx, span := telemetry.Tracer("jobs").Start(ctx, "job.run")
	span.SetAttributes(attribute.String("job.id", j.id), attribute.String("job.name", j.name))
	defer span.End()

	result, err := m.call(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Warn("job failed", "job_id", j.id, "name", j.name, "error", err)
		m.transition(j, StateFailed, nil, err.Error())
		return
	}
	m.transition(j, StateFinished, result, "")
}

func (m *Manager) call(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// transition moves j forward. Moves that would not advance the state are
// ignored.
func (m *Manager) transition(j *job, to State, result any, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to.rank() <= j.state.rank() {
		return
	}
	j.state = to
	now := m.now()
	switch to {
	case StateRunning:
		j.started = &now
	case StateFinished, StateFailed:
		j.finished = &now
		j.result = result
		j.err = errMsg
		close(j.done)
		telemetry.JobsActive.Dec()
	}
	telemetry.JobTransitions.WithLabelValues(string(to)).Inc()
}

// Poll reports the job's status and counts the query. Once the count
// reaches MaxPolls on a job that has not ended, StopPolling is set and
// the caller should fetch the result later instead.
func (m *Manager) Poll(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	j.polls++
	st := j.status()
	st.StopPolling = !j.state.Terminal() && j.polls >= m.opts.MaxPolls
	return st, nil
}

// Get returns the job's status without counting it as a poll.
func (m *Manager) Get(id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	return j.status(), nil
}

// Result returns the output of a finished job. It never blocks: a job
// still queued or running yields ErrJobNotFinished.
func (m *Manager) Result(id string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	switch j.state {
	case StateFinished:
		j.retrieved = true
		return j.result, nil
	case StateFailed:
		j.retrieved = true
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, j.err)
	}
	return nil, ErrJobNotFinished
}

// Await waits up to maxWait, capped at the configured ceiling, for the
// job to end and then behaves like Result.
func (m *Manager) Await(ctx context.Context, id string, maxWait time.Duration) (any, error) {
	if maxWait <= 0 || maxWait > m.opts.AwaitWait {
		maxWait = m.opts.AwaitWait
	}
	if err := m.wait(ctx, id, maxWait); err != nil {
		return nil, err
	}
	return m.Result(id)
}

// Dispatch submits fn and waits up to QuickWait for it. The returned
// status carries the result when the job ended in time; otherwise it is
// a handle to poll.
func (m *Manager) Dispatch(ctx context.Context, name string, fn Func) (Status, error) {
	id, err := m.Submit(name, fn)
	if err != nil {
		return Status{}, err
	}
	if err := m.wait(ctx, id, m.opts.QuickWait); err != nil {
		return Status{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Status{}, ErrJobNotFound
	}
	if j.state.Terminal() {
		j.retrieved = true
	}
	return j.status(), nil
}

func (m *Manager) wait(ctx context.Context, id string, d time.Duration) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-j.done:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// List returns every known job, newest first.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.status())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// Sweep drops retrieved jobs, jobs that ended longer than Retention ago,
// and the oldest ended jobs beyond MaxJobs. It returns how many went.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) sweepLocked() int {
	cutoff := m.now().Add(-m.opts.Retention)
	removed := 0

	var ended []*job
	for id, j := range m.jobs {
		if !j.state.Terminal() {
			continue
		}
		if j.retrieved || j.finished.Before(cutoff) {
			delete(m.jobs, id)
			removed++
			continue
		}
		ended = append(ended, j)
	}

	if over := len(m.jobs) - m.opts.MaxJobs + 1; over > 0 {
		sort.Slice(ended, func(i, k int) bool { return ended[i].finished.Before(*ended[k].finished) })
		for _, j := range ended[:min(over, len(ended))] {
			delete(m.jobs, j.id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept jobs", "removed", removed, "remaining", len(m.jobs))
	}
	return removed
}

// Wait blocks until every submitted job has ended.
func (m *Manager) Wait() { m.wg.Wait() }

func (j *job) status() Status {
	st := Status{
		ID:         j.id,
		Name:       j.name,
		State:      j.state,
		PollCount:  j.polls,
		CreatedAt:  j.created,
		StartedAt:  j.started,
		FinishedAt: j.finished,
	}
	switch j.state {
	case StateFinished:
		st.Result = j.result
	case StateFailed:
		st.Error = j.err
	}
	return st
}
