package structure

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
)

type fakeFetcher struct {
	calls   atomic.Int32
	fail    atomic.Bool
	delay   time.Duration
	folders map[string][]clickup.FolderDTO
	lists   map[string][]clickup.ListDTO
}

func (f *fakeFetcher) TeamID(ctx context.Context) (string, error) { return "team", nil }

func (f *fakeFetcher) Spaces(ctx context.Context) ([]clickup.SpaceDTO, error) {
	return []clickup.SpaceDTO{{ID: "s1", Name: "Product"}, {ID: "s2", Name: "Ops"}}, nil
}

func (f *fakeFetcher) Space(ctx context.Context, id string) (*clickup.SpaceDTO, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.fail.Load() {
		return nil, errors.New("api down")
	}
	return &clickup.SpaceDTO{ID: clickup.FlexID(id), Name: "Space " + id}, nil
}

func (f *fakeFetcher) Folders(ctx context.Context, spaceID string) ([]clickup.FolderDTO, error) {
	return f.folders[spaceID], nil
}

func (f *fakeFetcher) Folder(ctx context.Context, id string) (*clickup.FolderDTO, error) {
	return &clickup.FolderDTO{ID: clickup.FlexID(id), Name: "Design", Space: &clickup.Ref{ID: "s1", Name: "Product"}}, nil
}

func (f *fakeFetcher) FolderLists(ctx context.Context, folderID string) ([]clickup.ListDTO, error) {
	return []clickup.ListDTO{{ID: "l9", Name: "Mockups"}}, nil
}

func (f *fakeFetcher) FolderlessLists(ctx context.Context, spaceID string) ([]clickup.ListDTO, error) {
	return f.lists[spaceID], nil
}

func (f *fakeFetcher) List(ctx context.Context, id string) (*clickup.ListDTO, error) {
	return &clickup.ListDTO{
		ID: clickup.FlexID(id), Name: "Inbox",
		Space:  &clickup.Ref{ID: "s1", Name: "Product"},
		Folder: &clickup.Ref{ID: "hidden1", Name: "hidden", Hidden: true},
	}, nil
}

func newFake() *fakeFetcher {
	return &fakeFetcher{
		folders: map[string][]clickup.FolderDTO{
			"s1": {{ID: "f1", Name: "Backend", Lists: []clickup.ListDTO{{ID: "l1", Name: "API"}, {ID: "l2", Name: "Jobs"}}}},
		},
		lists: map[string][]clickup.ListDTO{
			"s1": {{ID: "l3", Name: "Triage"}},
			"s2": {{ID: "l4", Name: "Infra"}, {ID: "l5", Name: "Oncall"}},
		},
	}
}

func TestSpaceWithoutFoldersReportsFolderlessLists(t *testing.T) {
	c := New(newFake(), time.Hour, nil)

	snap, err := c.Hierarchy(context.Background(), SpaceScope("s2"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"l4", "l5"}, snap.ListIDs())
	require.Len(t, snap.Root.Children, 2)
	for _, l := range snap.Lists() {
		assert.Empty(t, l.FolderID)
		assert.Equal(t, "s2", l.SpaceID)
	}
}

func TestSpaceMergesFolderedAndFolderless(t *testing.T) {
	c := New(newFake(), time.Hour, nil)

	snap, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)

	locs := snap.Locations()
	require.Len(t, locs, 3)
	assert.Equal(t, "Backend", locs["l1"].FolderName)
	assert.Equal(t, "Space s1", locs["l1"].SpaceName)
	assert.Empty(t, locs["l3"].FolderName)

	node, ok := snap.Find("jobs", models.NodeList)
	require.True(t, ok)
	assert.Equal(t, "l2", node.ID)
	assert.Equal(t, "f1", node.ParentID)
}

func TestHierarchyServesFromCacheWithinTTL(t *testing.T) {
	f := newFake()
	c := New(f, time.Hour, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	now = now.Add(59 * time.Minute)
	_, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())

	now = now.Add(time.Minute)
	snap, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load(), "expired entry must be refetched")
	assert.Equal(t, now, snap.FetchedAt)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := newFake()
	c := New(f, time.Hour, nil)

	_, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)
	c.Invalidate(SpaceScope("s1"))
	assert.Equal(t, 0, c.Len())

	_, err = c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestConcurrentMissesShareOneDiscovery(t *testing.T) {
	f := newFake()
	f.delay = 20 * time.Millisecond
	c := New(f, time.Hour, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCancelledCallerDoesNotFailOtherWaiters(t *testing.T) {
	f := newFake()
	f.delay = 50 * time.Millisecond
	c := New(f, time.Hour, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Hierarchy(first, SpaceScope("s1"))
		firstErr <- err
	}()
	// let the first caller start the discovery
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		snap, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
		if err == nil && snap.Stale {
			err = errors.New("stale snapshot")
		}
		done <- err
	}()
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateAllDropsEveryScope(t *testing.T) {
	f := newFake()
	c := New(f, time.Hour, nil)
	ctx := context.Background()

	for _, sc := range []Scope{SpaceScope("s1"), SpaceScope("s2"), WorkspaceScope()} {
		_, err := c.Hierarchy(ctx, sc)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.Len())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())

	_, err := c.Hierarchy(ctx, SpaceScope("s1"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestExpiredSnapshotServedStaleWhenRefreshFails(t *testing.T) {
	f := newFake()
	c := New(f, time.Minute, nil)
	now := time.Now()
	c.SetClock(func() time.Time { return now })

	_, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)

	f.fail.Store(true)
	now = now.Add(2 * time.Minute)
	snap, err := c.Hierarchy(context.Background(), SpaceScope("s1"))
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Equal(t, int32(2), f.calls.Load(), "refresh is attempted before falling back")

	_, err = c.Hierarchy(context.Background(), SpaceScope("s9"))
	assert.Error(t, err)
}

func TestListScopeSkipsHiddenFolder(t *testing.T) {
	c := New(newFake(), time.Hour, nil)

	snap, err := c.Hierarchy(context.Background(), ListScope("l3"))
	require.NoError(t, err)

	locs := snap.Lists()
	require.Len(t, locs, 1)
	assert.Equal(t, "Product", locs[0].SpaceName)
	assert.Empty(t, locs[0].FolderID)
	assert.Equal(t, "s1", snap.Root.ParentID)
}

func TestFolderScopeFallsBackToFolderLists(t *testing.T) {
	c := New(newFake(), time.Hour, nil)

	snap, err := c.Hierarchy(context.Background(), FolderScope("f7"))
	require.NoError(t, err)

	locs := snap.Lists()
	require.Len(t, locs, 1)
	assert.Equal(t, "Mockups", locs[0].ListName)
	assert.Equal(t, "Design", locs[0].FolderName)
	assert.Equal(t, "Product", locs[0].SpaceName)
}

func TestWorkspaceScopeListsSpaces(t *testing.T) {
	c := New(newFake(), time.Hour, nil)

	snap, err := c.Hierarchy(context.Background(), WorkspaceScope())
	require.NoError(t, err)
	require.Len(t, snap.Root.Children, 2)
	assert.Equal(t, models.NodeSpace, snap.Root.Children[0].Type)
	assert.Empty(t, snap.ListIDs())
}
