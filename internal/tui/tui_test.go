package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/mirror"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/registry"
	"github.com/emilianohg/clickmirror/internal/structure"
	"github.com/emilianohg/clickmirror/internal/tui/screens"
)

type scriptedJobs struct {
	polls  []jobs.Status
	awaits []error
	result any
}

func (s *scriptedJobs) Poll(id string) (jobs.Status, error) {
	if len(s.polls) == 0 {
		return jobs.Status{}, jobs.ErrJobNotFound
	}
	st := s.polls[0]
	s.polls = s.polls[1:]
	return st, nil
}

func (s *scriptedJobs) Await(ctx context.Context, id string, maxWait time.Duration) (any, error) {
	if len(s.awaits) > 0 {
		err := s.awaits[0]
		s.awaits = s.awaits[1:]
		return nil, err
	}
	return s.result, nil
}

// drive feeds msg to the watcher and keeps running the returned commands
// until the watcher quits. Spinner ticks are dropped.
func drive(t *testing.T, w *Watcher, msg tea.Msg) {
	t.Helper()
	for i := 0; i < 20; i++ {
		_, cmd := w.Update(msg)
		if cmd == nil {
			return
		}
		msg = cmd()
		if _, quit := msg.(tea.QuitMsg); quit {
			return
		}
	}
	t.Fatal("watcher did not settle")
}

func TestWatcherReturnsFinishedResult(t *testing.T) {
	src := &scriptedJobs{polls: []jobs.Status{
		{State: jobs.StateRunning, PollCount: 1},
		{State: jobs.StateFinished, PollCount: 2, Result: "report"},
	}}
	w := NewWatcher(src, "j1", "ratios", time.Millisecond)

	drive(t, w, w.poll(0)())

	res, err := w.Outcome()
	require.NoError(t, err)
	assert.Equal(t, "report", res)
}

func TestWatcherStopsPollingAtCeiling(t *testing.T) {
	src := &scriptedJobs{
		polls:  []jobs.Status{{State: jobs.StateRunning, PollCount: 5, StopPolling: true}},
		awaits: []error{jobs.ErrJobNotFinished},
		result: 42,
	}
	w := NewWatcher(src, "j1", "accuracy", time.Millisecond)

	drive(t, w, w.poll(0)())

	assert.Empty(t, src.polls)
	res, err := w.Outcome()
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestWatcherSurfacesFailure(t *testing.T) {
	src := &scriptedJobs{polls: []jobs.Status{{State: jobs.StateFailed, Error: "api down"}}}
	w := NewWatcher(src, "j1", "time", time.Millisecond)

	drive(t, w, w.poll(0)())

	_, err := w.Outcome()
	assert.ErrorIs(t, err, jobs.ErrJobFailed)
	assert.ErrorContains(t, err, "api down")
}

func TestWaitPlain(t *testing.T) {
	src := &scriptedJobs{
		polls: []jobs.Status{
			{State: jobs.StateQueued},
			{State: jobs.StateRunning, StopPolling: true},
		},
		awaits: []error{jobs.ErrJobNotFinished, jobs.ErrJobNotFinished},
		result: "done",
	}
	res, err := WaitPlain(context.Background(), src, "j1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "done", res)

	_, err = WaitPlain(context.Background(), &scriptedJobs{}, "gone", time.Millisecond)
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))
}

func TestRenderReport(t *testing.T) {
	rep := &analytics.Report{
		Kind:   analytics.KindOvertime,
		Scope:  registry.Resolved{Scope: structure.SpaceScope("s1"), Name: "Web"},
		Period: &analytics.PeriodInfo{Kind: "this_week", Start: "2025-03-10", End: "2025-03-12"},
		Source: analytics.SourceLive,
		Tasks:  2,
		Overtime: &analytics.OvertimeReport{
			Tasks: []analytics.OvertimeTask{{
				Name: "Checkout", Estimate: 3 * time.Hour, Tracked: 6 * time.Hour, Overage: 3 * time.Hour,
				Shares: []analytics.OvertimeShare{{Person: "ana", Overage: 2 * time.Hour}, {Person: "ben", Overage: time.Hour}},
			}},
			ByPerson: []analytics.PersonOvertime{{Person: "ana", Tasks: 1, Overage: 2 * time.Hour}},
		},
		Partial:  true,
		Warnings: []string{"parent X unavailable"},
	}

	out := RenderReport(rep)
	assert.Contains(t, out, "OVERTIME")
	assert.Contains(t, out, "Checkout")
	assert.Contains(t, out, "ana 2h 00m")
	assert.Contains(t, out, "2025-03-10")
	assert.Contains(t, out, "Partial result")
	assert.Contains(t, out, "parent X unavailable")
}

func TestRenderRun(t *testing.T) {
	out := RenderRun(&mirror.RunReport{Run: 7, Mode: mirror.ModeFull, Fetched: 12, Deleted: 2})
	assert.Contains(t, out, "full")
	assert.Contains(t, out, "12")

	assert.Contains(t, RenderRun(&mirror.RunReport{Skipped: true}), "skipped")
}

func TestRenderMappings(t *testing.T) {
	assert.Contains(t, RenderMappings(nil), "No scopes mapped")

	out := RenderMappings([]models.ProjectMapping{{
		Alias: "web", Type: models.NodeSpace, RemoteID: "s1", Name: "Web",
		Structure: models.HierarchyNode{ID: "s1", Type: models.NodeSpace, Children: []models.HierarchyNode{
			{ID: "f1", Type: models.NodeFolder, Children: []models.HierarchyNode{{ID: "l1", Type: models.NodeList}, {ID: "l2", Type: models.NodeList}}},
			{ID: "l3", Type: models.NodeList},
		}},
	}})
	assert.Contains(t, out, "web")
	assert.Contains(t, out, "3")
}

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context) (*mirror.RunReport, error) {
	return &mirror.RunReport{Mode: mirror.ModeIncremental}, nil
}

func (stubRunner) RunFull(ctx context.Context) (*mirror.RunReport, error) {
	return &mirror.RunReport{Mode: mirror.ModeFull}, nil
}

func TestAppNavigation(t *testing.T) {
	a := NewApp(nil, stubRunner{})

	a.Update(screens.NavigateMsg{Screen: "sync", Full: true})
	assert.Equal(t, ScreenSync, a.current)
	assert.Contains(t, a.View(), "Mode: full")

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	require.NotNil(t, cmd)
	back, ok := cmd().(screens.NavigateMsg)
	require.True(t, ok)
	assert.Equal(t, "dashboard", back.Screen)

	a.Update(back)
	assert.Equal(t, ScreenDashboard, a.current)

	a.Update(screens.NavigateMsg{Screen: "nowhere"})
	assert.Equal(t, ScreenDashboard, a.current)

	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
