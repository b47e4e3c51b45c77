package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

const (
	DefaultRatioLow  = 0.25
	DefaultRatioHigh = 2.0
)

type MissingTask struct {
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	ListName string        `json:"list_name"`
	Basis    Basis         `json:"basis"`
	Tracked  time.Duration `json:"tracked"`
}

type MissingGroup struct {
	Person      string        `json:"person"`
	Count       int           `json:"count"`
	WithTracked int           `json:"with_tracked"`
	Tracked     time.Duration `json:"tracked"`
	Tasks       []MissingTask `json:"tasks"`
}

type MissingReport struct {
	Checked         int            `json:"checked"`
	Flagged         int            `json:"flagged"`
	WorkedUnplanned int            `json:"worked_unplanned"`
	NeverStarted    int            `json:"never_started"`
	SkippedUnknown  int            `json:"skipped_unknown"`
	ByPerson        []MissingGroup `json:"by_person"`
	Unassigned      []MissingTask  `json:"unassigned,omitempty"`
}

type MissingOptions struct {
	IncludeDone bool
	// Period limits the report to tasks with time logged in Entries and
	// groups by who logged it instead of by assignee.
	Period  bool
	Entries []models.TimeEntry
}

// MissingEstimates flags every task whose estimate in its own basis is
// zero.
func (t *Tree) MissingEstimates(opts MissingOptions) MissingReport {
	var rep MissingReport
	groups := make(map[string]*MissingGroup)
	group := func(person string) *MissingGroup {
		g, ok := groups[person]
		if !ok {
			g = &MissingGroup{Person: person}
			groups[person] = g
		}
		return g
	}

	var perTask map[string]map[string]time.Duration
	if opts.Period {
		perTask = trackedByTaskAndUser(opts.Entries)
	}

	for _, id := range t.order {
		n := t.nodes[id]
		if !opts.IncludeDone && closedCategory(n.Category) {
			continue
		}
		if opts.Period {
			if _, worked := perTask[id]; !worked {
				continue
			}
		}
		rep.Checked++

		m, _ := t.Metrics(id)
		tracked, estimate, ok := m.Applicable()
		if !ok {
			rep.SkippedUnknown++
			continue
		}
		if estimate > 0 {
			continue
		}

		rep.Flagged++
		if tracked > 0 {
			rep.WorkedUnplanned++
		} else {
			rep.NeverStarted++
		}

		item := MissingTask{TaskID: id, Name: n.Name, Status: n.Status, ListName: n.ListName, Basis: m.Basis, Tracked: tracked}

		if opts.Period {
			for _, user := range sortedKeys(perTask[id]) {
				d := perTask[id][user]
				g := group(user)
				g.Count++
				if d > 0 {
					g.WithTracked++
				}
				g.Tracked += d
				personal := item
				personal.Tracked = d
				g.Tasks = append(g.Tasks, personal)
			}
			continue
		}

		if len(n.Assignees) == 0 {
			rep.Unassigned = append(rep.Unassigned, item)
			continue
		}
		for _, a := range n.Assignees {
			g := group(a)
			g.Count++
			if tracked > 0 {
				g.WithTracked++
			}
			g.Tracked += tracked
			g.Tasks = append(g.Tasks, item)
		}
	}

	for _, g := range groups {
		rep.ByPerson = append(rep.ByPerson, *g)
	}
	sort.Slice(rep.ByPerson, func(i, j int) bool {
		a, b := rep.ByPerson[i], rep.ByPerson[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Person < b.Person
	})
	return rep
}

type RatioDirection string

const (
	RatioOver  RatioDirection = "over"
	RatioUnder RatioDirection = "under"
)

type RatioTask struct {
	TaskID    string         `json:"task_id"`
	Name      string         `json:"name"`
	ListName  string         `json:"list_name"`
	Basis     Basis          `json:"basis"`
	Tracked   time.Duration  `json:"tracked"`
	Estimate  time.Duration  `json:"estimate"`
	Ratio     float64        `json:"ratio"`
	Direction RatioDirection `json:"direction"`
}

type RatioReport struct {
	Low     float64     `json:"low"`
	High    float64     `json:"high"`
	Checked int         `json:"checked"`
	Over    int         `json:"over"`
	Under   int         `json:"under"`
	Tasks   []RatioTask `json:"tasks"`
}

// SuspiciousRatios flags estimated tasks whose tracked/estimate ratio lies
// outside [low, high]. Tasks without an estimate are left to
// MissingEstimates.
func (t *Tree) SuspiciousRatios(low, high float64) RatioReport {
	if low <= 0 {
		low = DefaultRatioLow
	}
	if high <= low {
		high = DefaultRatioHigh
	}
	rep := RatioReport{Low: low, High: high}

	for _, id := range t.order {
		m, _ := t.Metrics(id)
		tracked, estimate, ok := m.Applicable()
		if !ok || estimate <= 0 {
			continue
		}
		rep.Checked++

		ratio := float64(tracked) / float64(estimate)
		var dir RatioDirection
		switch {
		case ratio > high:
			dir = RatioOver
			rep.Over++
		case ratio < low:
			dir = RatioUnder
			rep.Under++
		default:
			continue
		}

		n := t.nodes[id]
		rep.Tasks = append(rep.Tasks, RatioTask{
			TaskID: id, Name: n.Name, ListName: n.ListName, Basis: m.Basis,
			Tracked: tracked, Estimate: estimate, Ratio: round2(ratio), Direction: dir,
		})
	}

	// furthest from 1x first, on a log scale so 4x and 0.25x weigh the same
	sort.SliceStable(rep.Tasks, func(i, j int) bool {
		return math.Abs(math.Log(rep.Tasks[i].Ratio)) > math.Abs(math.Log(rep.Tasks[j].Ratio))
	})
	return rep
}

type AccuracyReport struct {
	Estimated   int           `json:"estimated"`
	Unestimated int           `json:"unestimated"`
	Accurate    int           `json:"accurate"`
	Over        int           `json:"over"`
	Under       int           `json:"under"`
	Tracked     time.Duration `json:"tracked"`
	Estimate    time.Duration `json:"estimate"`
	// Ratio is tracked over estimate across every estimated task.
	Ratio      float64 `json:"ratio"`
	AccuracyPc float64 `json:"accuracy_pct"`
}

// EstimationAccuracy summarizes estimate quality over parentless tasks, so
// each unit of effort is counted once through its top-level rollup.
func (t *Tree) EstimationAccuracy(low, high float64) AccuracyReport {
	if low <= 0 {
		low = DefaultRatioLow
	}
	if high <= low {
		high = DefaultRatioHigh
	}
	var rep AccuracyReport

	for _, id := range t.order {
		m, _ := t.Metrics(id)
		if m.Basis != BasisTotal {
			continue
		}
		tracked, estimate, _ := m.Applicable()
		if estimate <= 0 {
			rep.Unestimated++
			continue
		}
		rep.Estimated++
		rep.Tracked += tracked
		rep.Estimate += estimate

		switch ratio := float64(tracked) / float64(estimate); {
		case ratio > high:
			rep.Over++
		case ratio < low:
			rep.Under++
		default:
			rep.Accurate++
		}
	}

	if rep.Estimate > 0 {
		rep.Ratio = round2(float64(rep.Tracked) / float64(rep.Estimate))
	}
	if rep.Estimated > 0 {
		rep.AccuracyPc = round2(100 * float64(rep.Accurate) / float64(rep.Estimated))
	}
	return rep
}

func closedCategory(c models.StatusCategory) bool {
	return c == models.CategoryDone || c == models.CategoryClosed
}

func trackedByTaskAndUser(entries []models.TimeEntry) map[string]map[string]time.Duration {
	out := make(map[string]map[string]time.Duration)
	for _, e := range entries {
		if e.TaskID == "" {
			continue
		}
		users, ok := out[e.TaskID]
		if !ok {
			users = make(map[string]time.Duration)
			out[e.TaskID] = users
		}
		users[personName(e)] += e.Duration
	}
	return out
}

func personName(e models.TimeEntry) string {
	if e.Username != "" {
		return e.Username
	}
	if e.UserID != "" {
		return e.UserID
	}
	return "Unknown"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
