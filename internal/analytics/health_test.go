package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
)

func ptr(t time.Time) *time.Time { return &t }

func TestStatusDistributionListsEveryCategory(t *testing.T) {
	tree := NewTree(ValuesDirect, []TaskInput{
		{ID: "a", Status: "in progress", Category: models.CategoryActive},
		{ID: "b", Status: "in progress", Category: models.CategoryActive},
		{ID: "c", Status: "to do", Category: models.CategoryNotStarted},
		{ID: "d", Status: "shipped", Category: models.CategoryDone},
		{ID: "e"},
	})

	rep := tree.StatusDistribution()
	assert.Equal(t, 5, rep.Total)
	require.NotEmpty(t, rep.ByStatus)
	assert.Equal(t, StatusCount{Status: "in progress", Category: models.CategoryActive, Count: 2}, rep.ByStatus[0])

	cats := map[models.StatusCategory]int{}
	for _, c := range rep.ByCategory {
		cats[c.Category] = c.Count
	}
	assert.Equal(t, map[models.StatusCategory]int{
		models.CategoryNotStarted: 1,
		models.CategoryActive:     2,
		models.CategoryDone:       1,
		models.CategoryClosed:     0,
		models.CategoryOther:      1,
	}, cats)
}

func TestWorkloadFlagsOverloadAndCapacity(t *testing.T) {
	var tasks []TaskInput
	for i := 0; i < 8; i++ {
		tasks = append(tasks, TaskInput{ID: "ana" + string(rune('a'+i)), Category: models.CategoryActive, Assignees: []string{"ana"}, Estimate: h})
	}
	tasks = append(tasks,
		TaskInput{ID: "b1", Category: models.CategoryActive, Assignees: []string{"ben"}},
		TaskInput{ID: "b2", Category: models.CategoryActive, Assignees: []string{"ben"}},
		TaskInput{ID: "c1", Category: models.CategoryActive, Assignees: []string{"cara"}},
		TaskInput{ID: "u1", Category: models.CategoryActive},
		TaskInput{ID: "done", Category: models.CategoryDone, Assignees: []string{"cara"}},
	)

	rep := NewTree(ValuesDirect, tasks).Workload()
	assert.Equal(t, 12, rep.TotalActive)
	assert.Equal(t, 3.0, rep.Average)

	levels := map[string]LoadLevel{}
	for _, r := range rep.Rows {
		levels[r.Person] = r.Level
	}
	assert.Equal(t, LoadOverloaded, levels["ana"])
	assert.Equal(t, LoadLevel(""), levels["ben"])
	assert.Equal(t, LoadCapacity, levels["cara"])
	assert.Equal(t, "ana", rep.Rows[0].Person)
	assert.Equal(t, 8*h, rep.Rows[0].Estimate)
	assert.Contains(t, rep.Notes, "1 unassigned active tasks")
}

func TestStaleSkipsClosedAndRecent(t *testing.T) {
	tree := NewTree(ValuesDirect, []TaskInput{
		{ID: "old", Category: models.CategoryActive, Updated: ptr(now.Add(-10 * 24 * time.Hour))},
		{ID: "older", Category: models.CategoryNotStarted, Updated: ptr(now.Add(-30 * 24 * time.Hour))},
		{ID: "fresh", Category: models.CategoryActive, Updated: ptr(now.Add(-time.Hour))},
		{ID: "shipped", Category: models.CategoryDone, Updated: ptr(now.Add(-60 * 24 * time.Hour))},
		{ID: "never", Category: models.CategoryActive},
	})

	rep := tree.Stale(now, 7*24*time.Hour)
	ids := []string{}
	for _, s := range rep.Tasks {
		ids = append(ids, s.TaskID)
	}
	assert.Equal(t, []string{"never", "older", "old"}, ids)
	assert.Equal(t, 30, rep.Tasks[1].IdleDays)
	assert.Equal(t, -1, rep.Tasks[0].IdleDays)
}

func TestAtRiskOverdueAndDueSoon(t *testing.T) {
	tree := NewTree(ValuesDirect, []TaskInput{
		{ID: "late", Category: models.CategoryActive, Due: ptr(now.Add(-24 * time.Hour))},
		{ID: "soon", Category: models.CategoryNotStarted, Due: ptr(now.Add(48 * time.Hour))},
		{ID: "later", Category: models.CategoryActive, Due: ptr(now.Add(10 * 24 * time.Hour))},
		{ID: "done", Category: models.CategoryDone, Due: ptr(now.Add(-48 * time.Hour))},
		{ID: "nodue", Category: models.CategoryActive},
	})

	rep := tree.AtRisk(now, 3*24*time.Hour)
	assert.Equal(t, 1, rep.Overdue)
	assert.Equal(t, 1, rep.DueSoon)
	require.Len(t, rep.Tasks, 2)
	assert.Equal(t, RiskOverdue, rep.Tasks[0].Risk)
	assert.Equal(t, "soon", rep.Tasks[1].TaskID)
}

func TestWorkloadReportFromLiveData(t *testing.T) {
	live := newLive()
	live.tasks[0].Status = clickup.StatusDTO{Status: "in progress", Type: "custom"}
	live.tasks[0].Assignees = nil
	svc := newService(live, Mirror{})

	rep, err := svc.Run(context.Background(), Request{Kind: KindWorkload, Scope: "web"})
	require.NoError(t, err)
	require.NotNil(t, rep.Workload)
	assert.Nil(t, rep.Period)
	assert.Equal(t, 1, rep.Workload.TotalActive)
	assert.Zero(t, live.batched)
}
