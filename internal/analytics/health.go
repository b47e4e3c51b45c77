package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

const (
	DefaultStaleAfter = 7 * 24 * time.Hour
	DefaultRiskWindow = 3 * 24 * time.Hour

	unassigned = "Unassigned"
)

type StatusCount struct {
	Status   string                `json:"status"`
	Category models.StatusCategory `json:"category"`
	Count    int                   `json:"count"`
}

type CategoryCount struct {
	Category models.StatusCategory `json:"category"`
	Count    int                   `json:"count"`
}

type StatusReport struct {
	Total      int             `json:"total"`
	ByStatus   []StatusCount   `json:"by_status"`
	ByCategory []CategoryCount `json:"by_category"`
}

var categoryOrder = []models.StatusCategory{
	models.CategoryNotStarted,
	models.CategoryActive,
	models.CategoryDone,
	models.CategoryClosed,
	models.CategoryOther,
}

// StatusDistribution counts tasks per status name and per category. Every
// category is listed, empty ones included.
func (t *Tree) StatusDistribution() StatusReport {
	rep := StatusReport{Total: t.Len()}

	byStatus := make(map[string]*StatusCount)
	byCategory := make(map[models.StatusCategory]int)
	for _, id := range t.order {
		n := t.nodes[id]
		cat := n.Category
		if cat == "" {
			cat = models.CategoryOther
		}
		byCategory[cat]++

		name := n.Status
		if name == "" {
			name = "unknown"
		}
		sc, ok := byStatus[name]
		if !ok {
			sc = &StatusCount{Status: name, Category: cat}
			byStatus[name] = sc
		}
		sc.Count++
	}

	for _, sc := range byStatus {
		rep.ByStatus = append(rep.ByStatus, *sc)
	}
	sort.Slice(rep.ByStatus, func(i, j int) bool {
		if rep.ByStatus[i].Count != rep.ByStatus[j].Count {
			return rep.ByStatus[i].Count > rep.ByStatus[j].Count
		}
		return rep.ByStatus[i].Status < rep.ByStatus[j].Status
	})
	for _, c := range categoryOrder {
		rep.ByCategory = append(rep.ByCategory, CategoryCount{Category: c, Count: byCategory[c]})
	}
	return rep
}

type LoadLevel string

const (
	LoadOverloaded LoadLevel = "overloaded"
	LoadCapacity   LoadLevel = "capacity"
)

type WorkloadRow struct {
	Person   string        `json:"person"`
	Active   int           `json:"active"`
	Estimate time.Duration `json:"estimate"`
	Tracked  time.Duration `json:"tracked"`
	Level    LoadLevel     `json:"level,omitempty"`
}

type WorkloadReport struct {
	TotalActive int           `json:"total_active"`
	Average     float64       `json:"average"`
	Rows        []WorkloadRow `json:"rows"`
	Notes       []string      `json:"notes,omitempty"`
}

// Workload counts active tasks per assignee, with the task's own estimate
// and tracked time. Tasks without assignees count under Unassigned. A
// person is overloaded above 1.5x the average and more than 5 tasks, and
// has capacity below half the average.
func (t *Tree) Workload() WorkloadReport {
	var rep WorkloadReport
	rows := make(map[string]*WorkloadRow)

	for _, id := range t.order {
		n := t.nodes[id]
		if n.Category != models.CategoryActive {
			continue
		}
		rep.TotalActive++
		m, _ := t.Metrics(id)

		people := n.Assignees
		if len(people) == 0 {
			people = []string{unassigned}
		}
		for _, p := range people {
			r, ok := rows[p]
			if !ok {
				r = &WorkloadRow{Person: p}
				rows[p] = r
			}
			r.Active++
			r.Estimate += m.EstimateDirect
			r.Tracked += m.TrackedDirect
		}
	}
	if len(rows) == 0 {
		return rep
	}

	rep.Average = round2(float64(rep.TotalActive) / float64(len(rows)))
	for _, p := range sortedKeys(rows) {
		r := rows[p]
		count := float64(r.Active)
		switch {
		case p == unassigned:
			rep.Notes = append(rep.Notes, fmt.Sprintf("%d unassigned active tasks", r.Active))
		case count > rep.Average*1.5 && r.Active > 5:
			r.Level = LoadOverloaded
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s is overloaded (%d tasks)", p, r.Active))
		case count < rep.Average*0.5:
			r.Level = LoadCapacity
			rep.Notes = append(rep.Notes, fmt.Sprintf("%s has capacity", p))
		}
		rep.Rows = append(rep.Rows, *r)
	}
	sort.SliceStable(rep.Rows, func(i, j int) bool { return rep.Rows[i].Active > rep.Rows[j].Active })
	return rep
}

type StaleTask struct {
	TaskID     string     `json:"task_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	ListName   string     `json:"list_name"`
	Assignees  []string   `json:"assignees"`
	LastUpdate *time.Time `json:"last_update"`
	IdleDays   int        `json:"idle_days"`
}

type StaleReport struct {
	Cutoff time.Time   `json:"cutoff"`
	Tasks  []StaleTask `json:"tasks"`
}

// Stale lists open tasks not updated since now-after, longest idle first.
// A task with no update time at all is stale.
func (t *Tree) Stale(now time.Time, after time.Duration) StaleReport {
	if after <= 0 {
		after = DefaultStaleAfter
	}
	rep := StaleReport{Cutoff: now.Add(-after)}

	for _, id := range t.order {
		n := t.nodes[id]
		if closedCategory(n.Category) {
			continue
		}
		if n.Updated != nil && !n.Updated.Before(rep.Cutoff) {
			continue
		}
		st := StaleTask{
			TaskID: id, Name: n.Name, Status: n.Status, ListName: n.ListName,
			Assignees: n.Assignees, LastUpdate: n.Updated, IdleDays: -1,
		}
		if n.Updated != nil {
			st.IdleDays = int(now.Sub(*n.Updated) / (24 * time.Hour))
		}
		rep.Tasks = append(rep.Tasks, st)
	}
	sort.SliceStable(rep.Tasks, func(i, j int) bool {
		a, b := rep.Tasks[i].LastUpdate, rep.Tasks[j].LastUpdate
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return rep
}

type RiskLevel string

const (
	RiskOverdue RiskLevel = "overdue"
	RiskDueSoon RiskLevel = "due_soon"
)

type RiskTask struct {
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	ListName  string    `json:"list_name"`
	Assignees []string  `json:"assignees"`
	Due       time.Time `json:"due"`
	Risk      RiskLevel `json:"risk"`
}

type AtRiskReport struct {
	Window  time.Duration `json:"window"`
	Overdue int           `json:"overdue"`
	DueSoon int           `json:"due_soon"`
	Tasks   []RiskTask    `json:"tasks"`
}

// AtRisk lists tasks not yet done that are past due, or due within window
// of now, earliest due first.
func (t *Tree) AtRisk(now time.Time, window time.Duration) AtRiskReport {
	if window <= 0 {
		window = DefaultRiskWindow
	}
	rep := AtRiskReport{Window: window}
	limit := now.Add(window)

	for _, id := range t.order {
		n := t.nodes[id]
		if n.Due == nil || (n.Category != models.CategoryActive && n.Category != models.CategoryNotStarted) {
			continue
		}
		var level RiskLevel
		switch due := *n.Due; {
		case due.Before(now):
			level = RiskOverdue
			rep.Overdue++
		case !due.After(limit):
			level = RiskDueSoon
			rep.DueSoon++
		default:
			continue
		}
		rep.Tasks = append(rep.Tasks, RiskTask{
			TaskID: id, Name: n.Name, Status: n.Status, ListName: n.ListName,
			Assignees: n.Assignees, Due: *n.Due, Risk: level,
		})
	}
	sort.SliceStable(rep.Tasks, func(i, j int) bool { return rep.Tasks[i].Due.Before(rep.Tasks[j].Due) })
	return rep
}
