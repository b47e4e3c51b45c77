package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/db"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/period"
	"github.com/emilianohg/clickmirror/internal/registry"
	"github.com/emilianohg/clickmirror/internal/repository"
	"github.com/emilianohg/clickmirror/internal/structure"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, ref string) (registry.Resolved, error) {
	switch ref {
	case "web":
		return registry.Resolved{Scope: structure.SpaceScope("s1"), Name: "Web", Alias: "web", Via: "alias"}, nil
	case "empty":
		return registry.Resolved{Scope: structure.SpaceScope("s0"), Name: "Empty", Via: "name"}, nil
	}
	return registry.Resolved{}, registry.ErrUnknownScope
}

type stubHierarchy struct{}

func (stubHierarchy) Hierarchy(ctx context.Context, scope structure.Scope) (*structure.Snapshot, error) {
	root := models.HierarchyNode{ID: scope.ID, Name: "Web", Type: models.NodeSpace}
	if scope.ID == "s1" {
		root.Children = []models.HierarchyNode{
			{ID: "f1", Name: "Frontend", Type: models.NodeFolder, ParentID: "s1", Children: []models.HierarchyNode{
				{ID: "l1", Name: "Checkout", Type: models.NodeList, ParentID: "f1"},
			}},
		}
	}
	return &structure.Snapshot{Scope: scope, Root: root}, nil
}

type stubLive struct {
	tasks   []clickup.TaskDTO
	entries map[string][]clickup.TimeEntryDTO
	parents map[string]clickup.TaskDTO
	teamErr error
	fetches int
	batched int
}

func (l *stubLive) Task(ctx context.Context, id string) (*clickup.TaskDTO, error) {
	t, ok := l.parents[id]
	if !ok {
		return nil, errors.New("gone")
	}
	return &t, nil
}

func (l *stubLive) TasksForLists(ctx context.Context, listIDs []string, q clickup.TaskQuery, workers int) ([]clickup.TaskDTO, error) {
	l.fetches++
	return l.tasks, nil
}

// TeamTimeEntries serves every stored entry, plus one on a task in a list
// outside the scope.
func (l *stubLive) TeamTimeEntries(ctx context.Context, start, end time.Time, assignees []string) ([]clickup.TimeEntryDTO, error) {
	if l.teamErr != nil {
		return nil, l.teamErr
	}
	out := []clickup.TimeEntryDTO{{
		ID: "far", Task: &clickup.Ref{ID: "Z"}, User: clickup.UserDTO{ID: "3", Username: "cara"},
		Start: at(start), Duration: ms(h), TaskLocation: clickup.TaskLocationDTO{ListID: "l9"},
	}}
	for _, taskID := range sortedKeys(l.entries) {
		for _, e := range l.entries[taskID] {
			e.Task = &clickup.Ref{ID: clickup.FlexID(taskID)}
			if s := e.Start.Time(); s != nil && !s.Before(start) && s.Before(end) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (l *stubLive) TimeEntriesBatch(ctx context.Context, ids []string, workers int) (map[string][]clickup.TimeEntryDTO, map[string]error) {
	l.batched++
	out := make(map[string][]clickup.TimeEntryDTO)
	for _, id := range ids {
		out[id] = l.entries[id]
	}
	return out, nil
}

func ms(d time.Duration) clickup.Millis { return clickup.Millis(d.Milliseconds()) }

func at(t time.Time) clickup.Millis { return clickup.Millis(t.UnixMilli()) }

var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func newLive() *stubLive {
	monday := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &stubLive{
		tasks: []clickup.TaskDTO{
			{ID: "T", Name: "Shared", List: clickup.Ref{ID: "l1", Name: "Checkout"}, TimeSpent: ms(6 * h), TimeEstimate: ms(3 * h)},
			{ID: "S", Name: "Sub", Parent: strPtr("X"), List: clickup.Ref{ID: "l1", Name: "Checkout"}, TimeSpent: ms(h)},
		},
		entries: map[string][]clickup.TimeEntryDTO{
			"T": {
				{ID: "e1", User: clickup.UserDTO{ID: "1", Username: "ana"}, Start: at(monday), End: at(monday.Add(4 * h))},
				{ID: "e2", User: clickup.UserDTO{ID: "2", Username: "ben"}, Start: at(monday.Add(24 * h)), End: at(monday.Add(26 * h))},
				// last week, outside this_week
				{ID: "e3", User: clickup.UserDTO{ID: "2", Username: "ben"}, Start: at(monday.Add(-48 * h)), End: at(monday.Add(-47 * h))},
			},
			"S": {{ID: "e4", User: clickup.UserDTO{ID: "1", Username: "ana"}, Start: at(monday), Duration: ms(h)}},
		},
	}
}

func newService(live Live, mirror Mirror) *Service {
	cfg := config.DefaultConfig().Reports
	svc := NewService(ServiceOptions{
		Resolver: stubResolver{},
		Cache:    stubHierarchy{},
		Live:     live,
		Mirror:   mirror,
		Reports:  cfg,
		Location: time.UTC,
	})
	svc.SetClock(func() time.Time { return now })
	return svc
}

func TestOvertimeFromLiveData(t *testing.T) {
	svc := newService(newLive(), Mirror{})

	rep, err := svc.Run(context.Background(), Request{Kind: KindOvertime, Scope: "web"})
	require.NoError(t, err)

	assert.Equal(t, SourceLive, rep.Source)
	require.NotNil(t, rep.Period)
	assert.Equal(t, period.ThisWeek, rep.Period.Kind)
	assert.Equal(t, "2025-03-10", rep.Period.Start)
	require.NotNil(t, rep.Overtime)
	require.Len(t, rep.Overtime.Tasks, 1)

	shares := map[string]time.Duration{}
	for _, s := range rep.Overtime.Tasks[0].Shares {
		shares[s.Person] = s.Overage
	}
	assert.Equal(t, map[string]time.Duration{"ana": 2 * h, "ben": h}, shares)

	// S's parent X cannot be fetched
	assert.True(t, rep.Partial)
	assert.NotEmpty(t, rep.Warnings)
}

func TestTimeReportByProject(t *testing.T) {
	live := newLive()
	svc := newService(live, Mirror{})

	rep, err := svc.Run(context.Background(), Request{Kind: KindTime, Scope: "web", GroupBy: "project"})
	require.NoError(t, err)
	require.NotNil(t, rep.Time)
	require.Len(t, rep.Time.Rows, 1)
	assert.Equal(t, "Frontend", rep.Time.Rows[0].Key)
	assert.Equal(t, 7*h, rep.Time.Total, "the entry in l9 is out of scope")
	assert.Zero(t, live.batched, "period entries come from the team endpoint")
}

func TestPerTaskEntriesWhenTeamEndpointFails(t *testing.T) {
	live := newLive()
	live.teamErr = clickup.ErrNotFound
	svc := newService(live, Mirror{})

	rep, err := svc.Run(context.Background(), Request{Kind: KindTime, Scope: "web"})
	require.NoError(t, err)
	assert.Equal(t, 1, live.batched)
	assert.Equal(t, 7*h, rep.Time.Total)
}

func TestPlanRejectsBadRequests(t *testing.T) {
	svc := newService(newLive(), Mirror{})
	ctx := context.Background()

	_, err := svc.Plan(ctx, Request{Kind: "burndown"})
	assert.Error(t, err)

	_, err = svc.Plan(ctx, Request{Kind: KindTime, Scope: "web", Spec: period.Spec{Kind: "fortnight"}})
	assert.ErrorIs(t, err, period.ErrInvalidPeriod)

	_, err = svc.Plan(ctx, Request{Kind: KindRatios, Scope: "nowhere"})
	assert.ErrorIs(t, err, registry.ErrUnknownScope)

	_, err = svc.Plan(ctx, Request{Kind: KindRatios, Scope: "empty"})
	assert.ErrorIs(t, err, registry.ErrUnknownScope)
}

func TestLivePlansFetchNothingUpFront(t *testing.T) {
	live := newLive()
	svc := newService(live, Mirror{})
	svc.cfg.InlineTaskLimit = 1

	p, err := svc.Plan(context.Background(), Request{Kind: KindRatios, Scope: "web"})
	require.NoError(t, err)
	assert.Zero(t, live.fetches)
	assert.Equal(t, -1, p.Size())
	assert.Equal(t, 1, p.Lists())
	assert.True(t, p.Inline(), "unknown size goes through the quick wait")
	assert.Nil(t, p.rng, "ratios need no period")

	rep, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, live.fetches)
	assert.Equal(t, 2, rep.Tasks)
}

func TestMirrorPlansAreSizedByRowCount(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tasks := repository.NewTaskRepo(conn)
	state := repository.NewSyncStateRepo(conn)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, tasks.Upsert(ctx, &models.Task{ID: id, Title: id, ListID: "l1"}, nil))
	}
	_, err = state.BeginRun(ctx, "full")
	require.NoError(t, err)
	require.NoError(t, state.RecordSuccess(ctx, now.Add(-time.Minute)))

	live := newLive()
	svc := newService(live, Mirror{Tasks: tasks, Entries: repository.NewTimeEntryRepo(conn), State: state})
	svc.cfg.InlineTaskLimit = 2

	p, err := svc.Plan(ctx, Request{Kind: KindRatios, Scope: "web"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())
	assert.False(t, p.Inline())
	assert.Zero(t, live.fetches)
}

func TestFreshMirrorIsPreferred(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tasks := repository.NewTaskRepo(conn)
	state := repository.NewSyncStateRepo(conn)
	parent := "P"
	require.NoError(t, tasks.Upsert(ctx, &models.Task{ID: "P", Title: "Epic", ListID: "elsewhere", TrackedMinutes: 120}, nil))
	require.NoError(t, tasks.Upsert(ctx, &models.Task{ID: "C", Title: "Child", ParentID: &parent, ListID: "l1", TrackedMinutes: 60}, []models.TimeEntry{
		{ID: "e1", TaskID: "C", Username: "ana", Start: now.Add(-2 * h), End: now.Add(-h), Duration: h},
	}))
	_, err = state.BeginRun(ctx, "full")
	require.NoError(t, err)
	require.NoError(t, state.RecordSuccess(ctx, now.Add(-5*time.Minute)))

	// no live client at all: everything must come from the mirror
	svc := newService(nil, Mirror{Tasks: tasks, Entries: repository.NewTimeEntryRepo(conn), State: state})

	rep, err := svc.Run(ctx, Request{Kind: KindMissing, Scope: "web", Spec: period.Spec{Kind: "today"}})
	require.NoError(t, err)
	assert.Equal(t, SourceMirror, rep.Source)
	assert.False(t, rep.Partial)
	require.NotNil(t, rep.Missing)
	assert.Equal(t, 1, rep.Missing.Flagged)
	assert.Equal(t, 1, rep.Tasks)
}

func TestStaleMirrorFallsBackToLive(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenInMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	state := repository.NewSyncStateRepo(conn)
	_, err = state.BeginRun(ctx, "full")
	require.NoError(t, err)
	require.NoError(t, state.RecordSuccess(ctx, now.Add(-2*h)))

	svc := newService(newLive(), Mirror{Tasks: repository.NewTaskRepo(conn), Entries: repository.NewTimeEntryRepo(conn), State: state})
	rep, err := svc.Run(ctx, Request{Kind: KindAccuracy, Scope: "web"})
	require.NoError(t, err)
	assert.Equal(t, SourceLive, rep.Source)
	require.NotNil(t, rep.Accuracy)
	assert.Equal(t, 1, rep.Accuracy.Estimated)
}
