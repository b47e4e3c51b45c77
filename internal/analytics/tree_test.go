package analytics

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilianohg/clickmirror/internal/clickup"
)

const h = time.Hour

func TestRollupSeparatesReportedValues(t *testing.T) {
	// The API reports A's figures with B already rolled in.
	tree := NewTree(ValuesReported, []TaskInput{
		{ID: "A", Name: "Checkout", Tracked: 11*h + 3*time.Minute, Estimate: 10 * h},
		{ID: "B", ParentID: "A", Name: "Payment form", Tracked: 5 * h, Estimate: 6 * h},
	})

	a, ok := tree.Metrics("A")
	require.True(t, ok)
	assert.Equal(t, BasisTotal, a.Basis)
	assert.Equal(t, 11*h+3*time.Minute, a.TrackedTotal)
	assert.Equal(t, 6*h+3*time.Minute, a.TrackedDirect)
	assert.Equal(t, 10*h, a.EstimateTotal)
	assert.Equal(t, 4*h, a.EstimateDirect)

	b, _ := tree.Metrics("B")
	assert.Equal(t, BasisDirect, b.Basis)
	tracked, estimate, ok := b.Applicable()
	require.True(t, ok)
	assert.Equal(t, 5*h, tracked)
	assert.Equal(t, 6*h, estimate)
}

func TestReportedBelowChildrenIsTakenAsOwn(t *testing.T) {
	tree := NewTree(ValuesReported, []TaskInput{
		{ID: "p", Tracked: 1 * h},
		{ID: "c", ParentID: "p", Tracked: 3 * h},
	})
	m, _ := tree.Metrics("p")
	assert.Equal(t, 1*h, m.TrackedDirect)
	assert.Equal(t, 4*h, m.TrackedTotal)
}

func TestDirectValuesSumUp(t *testing.T) {
	tree := NewTree(ValuesDirect, []TaskInput{
		{ID: "root", Tracked: 2 * h},
		{ID: "c1", ParentID: "root", Tracked: 1 * h},
		{ID: "c2", ParentID: "root", Tracked: 30 * time.Minute},
		{ID: "g1", ParentID: "c1", Tracked: 15 * time.Minute},
	})
	m, _ := tree.Metrics("root")
	assert.Equal(t, 2*h, m.TrackedDirect)
	assert.Equal(t, 3*h+45*time.Minute, m.TrackedTotal)
	assert.ElementsMatch(t, []string{"c1", "c2"}, tree.Children("root"))
}

// Every node's total equals its own share plus its children's totals, and
// the roots' totals together count every leaf exactly once.
func TestRollupInvariantOnRandomTrees(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		n := 1 + rng.IntN(60)
		var tasks []TaskInput
		var sumDirect time.Duration
		for i := 0; i < n; i++ {
			in := TaskInput{ID: fmt.Sprintf("t%d", i), Tracked: time.Duration(rng.IntN(600)) * time.Minute}
			if i > 0 && rng.IntN(4) > 0 {
				in.ParentID = fmt.Sprintf("t%d", rng.IntN(i))
			}
			sumDirect += in.Tracked
			tasks = append(tasks, in)
		}
		tree := NewTree(ValuesDirect, tasks)

		var rootTotal time.Duration
		for _, in := range tasks {
			m, ok := tree.Metrics(in.ID)
			require.True(t, ok)

			var kids time.Duration
			for _, c := range tree.Children(in.ID) {
				cm, _ := tree.Metrics(c)
				kids += cm.TrackedTotal
			}
			assert.Equal(t, m.TrackedDirect+kids, m.TrackedTotal, in.ID)

			if in.ParentID == "" {
				assert.Equal(t, BasisTotal, m.Basis)
				rootTotal += m.TrackedTotal
			} else {
				assert.Equal(t, BasisDirect, m.Basis)
			}
		}
		assert.Equal(t, sumDirect, rootTotal, "round %d", round)
	}
}

func TestCyclesAreBroken(t *testing.T) {
	tree := NewTree(ValuesDirect, []TaskInput{
		{ID: "a", ParentID: "c", Tracked: 1 * h},
		{ID: "b", ParentID: "a", Tracked: 2 * h},
		{ID: "c", ParentID: "b", Tracked: 4 * h},
		{ID: "self", ParentID: "self", Tracked: 1 * h},
	})

	var largest time.Duration
	for _, id := range []string{"a", "b", "c"} {
		m, ok := tree.Metrics(id)
		require.True(t, ok)
		assert.Equal(t, BasisDirect, m.Basis)
		largest = max(largest, m.TrackedTotal)
	}
	assert.Equal(t, 7*h, largest, "one member of the loop carries the whole chain once")

	m, _ := tree.Metrics("self")
	assert.Equal(t, 1*h, m.TrackedTotal)
}

type stubFetcher struct {
	calls atomic.Int32
	tasks map[string]clickup.TaskDTO
}

func (f *stubFetcher) Task(ctx context.Context, id string) (*clickup.TaskDTO, error) {
	f.calls.Add(1)
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("boom")
	}
	return &t, nil
}

func strPtr(s string) *string { return &s }

func TestResolveParentsAcrossLists(t *testing.T) {
	f := &stubFetcher{tasks: map[string]clickup.TaskDTO{
		"P": {ID: "P", Name: "Epic", Parent: strPtr("G"), TimeSpent: clickup.Millis((5 * h).Milliseconds()), List: clickup.Ref{ID: "other"}},
		"G": {ID: "G", Name: "Initiative"},
	}}
	tree := NewTree(ValuesReported, []TaskInput{
		{ID: "s1", ParentID: "P", Tracked: 2 * h},
		{ID: "s2", ParentID: "P", Tracked: 1 * h},
		{ID: "orphan", ParentID: "missing", Tracked: 1 * h, Estimate: 0},
	})

	tree.ResolveParents(context.Background(), f, 4)

	assert.Equal(t, int32(3), f.calls.Load(), "P, G and missing fetched once each")
	assert.True(t, tree.Partial())
	assert.Contains(t, tree.Unresolved(), "missing")
	assert.Equal(t, 3, tree.Len(), "resolved parents stay out of scope")

	p, ok := tree.Metrics("P")
	require.True(t, ok)
	assert.Equal(t, BasisDirect, p.Basis)
	assert.Equal(t, 5*h, p.TrackedTotal)
	assert.Equal(t, 2*h, p.TrackedDirect)

	s1, _ := tree.Metrics("s1")
	assert.Equal(t, BasisDirect, s1.Basis)

	orphan, _ := tree.Metrics("orphan")
	assert.Equal(t, BasisUnknown, orphan.Basis)
	_, _, ok = orphan.Applicable()
	assert.False(t, ok)
}

func TestUnresolvedParentWithoutFetchKeepsDirectBasis(t *testing.T) {
	tree := NewTree(ValuesReported, []TaskInput{{ID: "s", ParentID: "elsewhere", Tracked: h}})
	m, _ := tree.Metrics("s")
	assert.Equal(t, BasisDirect, m.Basis)
	assert.False(t, tree.Partial())
}
