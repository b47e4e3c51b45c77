package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/period"
	"github.com/emilianohg/clickmirror/internal/structure"
)

type GroupBy string

const (
	ByPerson  GroupBy = "person"
	ByProject GroupBy = "project"
	ByList    GroupBy = "list"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return ByPerson, nil
	case ByPerson, ByProject, ByList:
		return g, nil
	}
	return "", fmt.Errorf("unknown grouping %q (want person, project or list)", s)
}

type TimeRow struct {
	Key     string        `json:"key"`
	Tracked time.Duration `json:"tracked"`
	Entries int           `json:"entries"`
	Tasks   int           `json:"tasks"`
	People  int           `json:"people"`
}

type TimeReport struct {
	GroupBy GroupBy       `json:"group_by"`
	Total   time.Duration `json:"total"`
	Rows    []TimeRow     `json:"rows"`
}

// TimeReport sums entries per person, per project (folder, or the space
// for folderless lists) or per list. Entries on tasks outside the tree are
// kept, located through their own list id when they carry one.
func (t *Tree) TimeReport(entries []models.TimeEntry, groupBy GroupBy, locs map[string]structure.ListLocation) TimeReport {
	rep := TimeReport{GroupBy: groupBy}

	type acc struct {
		row    TimeRow
		tasks  map[string]struct{}
		people map[string]struct{}
	}
	rows := make(map[string]*acc)

	for _, e := range entries {
		key := t.groupKey(e, groupBy, locs)
		a, ok := rows[key]
		if !ok {
			a = &acc{row: TimeRow{Key: key}, tasks: map[string]struct{}{}, people: map[string]struct{}{}}
			rows[key] = a
		}
		a.row.Tracked += e.Duration
		a.row.Entries++
		a.tasks[e.TaskID] = struct{}{}
		a.people[personName(e)] = struct{}{}
		rep.Total += e.Duration
	}

	for _, a := range rows {
		a.row.Tasks = len(a.tasks)
		a.row.People = len(a.people)
		rep.Rows = append(rep.Rows, a.row)
	}
	sort.Slice(rep.Rows, func(i, j int) bool {
		if rep.Rows[i].Tracked != rep.Rows[j].Tracked {
			return rep.Rows[i].Tracked > rep.Rows[j].Tracked
		}
		return rep.Rows[i].Key < rep.Rows[j].Key
	})
	return rep
}

func (t *Tree) groupKey(e models.TimeEntry, groupBy GroupBy, locs map[string]structure.ListLocation) string {
	if groupBy == ByPerson {
		return personName(e)
	}

	listID, listName := e.ListID, e.ListName
	if n, ok := t.nodes[e.TaskID]; ok {
		listID, listName = n.ListID, n.ListName
	}
	loc, located := locs[listID]

	switch groupBy {
	case ByList:
		if located && loc.ListName != "" {
			return loc.ListName
		}
		if listName != "" {
			return listName
		}
	case ByProject:
		if located {
			if loc.FolderName != "" {
				return loc.FolderName
			}
			if loc.SpaceName != "" {
				return loc.SpaceName
			}
		}
	}
	return "Unknown"
}

type OvertimeShare struct {
	Person  string        `json:"person"`
	Tracked time.Duration `json:"tracked"`
	Overage time.Duration `json:"overage"`
}

type OvertimeTask struct {
	TaskID   string          `json:"task_id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Basis    Basis           `json:"basis"`
	Estimate time.Duration   `json:"estimate"`
	Tracked  time.Duration   `json:"tracked"`
	Overage  time.Duration   `json:"overage"`
	Shares   []OvertimeShare `json:"shares"`
}

type PersonOvertime struct {
	Person  string        `json:"person"`
	Tasks   int           `json:"tasks"`
	Overage time.Duration `json:"overage"`
}

type OvertimeReport struct {
	MinOverage time.Duration    `json:"min_overage"`
	Tasks      []OvertimeTask   `json:"tasks"`
	ByPerson   []PersonOvertime `json:"by_person"`
}

// Overtime compares the time logged on each task in entries against the
// task's own estimate. Entries are never rolled up to parents, so a
// subtask's overrun counts once, on the subtask. Basis is reported as a
// label only. A task's overage is split between the people who logged
// time on it in proportion to what each logged.
func (t *Tree) Overtime(entries []models.TimeEntry, minOverage time.Duration) OvertimeReport {
	rep := OvertimeReport{MinOverage: minOverage}
	perTask := trackedByTaskAndUser(entries)
	people := make(map[string]*PersonOvertime)

	for _, id := range t.order {
		users := perTask[id]
		if len(users) == 0 {
			continue
		}
		m, _ := t.Metrics(id)
		estimate := m.EstimateDirect
		if estimate <= 0 {
			continue
		}

		var tracked time.Duration
		for _, d := range users {
			tracked += d
		}
		overage := tracked - estimate
		if overage <= 0 || overage < minOverage {
			continue
		}

		n := t.nodes[id]
		task := OvertimeTask{
			TaskID: id, Name: n.Name, Status: n.Status, Basis: m.Basis,
			Estimate: estimate, Tracked: tracked, Overage: overage,
			Shares: splitOverage(overage, users),
		}
		rep.Tasks = append(rep.Tasks, task)

		for _, s := range task.Shares {
			if s.Overage <= 0 {
				continue
			}
			p, ok := people[s.Person]
			if !ok {
				p = &PersonOvertime{Person: s.Person}
				people[s.Person] = p
			}
			p.Tasks++
			p.Overage += s.Overage
		}
	}

	sort.SliceStable(rep.Tasks, func(i, j int) bool { return rep.Tasks[i].Overage > rep.Tasks[j].Overage })
	for _, p := range people {
		rep.ByPerson = append(rep.ByPerson, *p)
	}
	sort.Slice(rep.ByPerson, func(i, j int) bool {
		if rep.ByPerson[i].Overage != rep.ByPerson[j].Overage {
			return rep.ByPerson[i].Overage > rep.ByPerson[j].Overage
		}
		return rep.ByPerson[i].Person < rep.ByPerson[j].Person
	})
	return rep
}

// splitOverage gives each person overage*tracked/total, in whole seconds,
// handing leftover seconds to the largest remainders so shares add up
// to the overage exactly.
func splitOverage(overage time.Duration, users map[string]time.Duration) []OvertimeShare {
	names := sortedKeys(users)
	total := int64(0)
	for _, n := range names {
		total += int64(users[n] / time.Second)
	}

	shares := make([]OvertimeShare, len(names))
	over := int64(overage / time.Second)
	if total <= 0 {
		for i, n := range names {
			shares[i] = OvertimeShare{Person: n, Tracked: users[n]}
		}
		return shares
	}

	type rem struct {
		idx int
		r   int64
	}
	rems := make([]rem, len(names))
	var given int64
	for i, n := range names {
		weight := int64(users[n] / time.Second)
		q := over * weight / total
		shares[i] = OvertimeShare{Person: n, Tracked: users[n], Overage: time.Duration(q) * time.Second}
		rems[i] = rem{idx: i, r: over * weight % total}
		given += q
	}
	sort.SliceStable(rems, func(i, j int) bool { return rems[i].r > rems[j].r })
	for k := int64(0); k < over-given; k++ {
		shares[rems[k].idx].Overage += time.Second
	}
	return shares
}

type DayHours struct {
	Date      string        `json:"date"`
	Weekday   string        `json:"day_of_week"`
	Tracked   time.Duration `json:"tracked"`
	Shortfall time.Duration `json:"shortfall"`
}

type MemberHours struct {
	Person    string        `json:"person"`
	DaysBelow int           `json:"days_below"`
	Tracked   time.Duration `json:"tracked"`
	ShortDays []DayHours    `json:"short_days"`
}

type LowHoursReport struct {
	Threshold time.Duration `json:"threshold"`
	Flagged   []MemberHours `json:"flagged"`
	Compliant []string      `json:"compliant"`
}

// LowHours totals each person's logged time per calendar day in the
// range's timezone and lists the days that fall below threshold. Only
// days with some time logged are considered.
func LowHours(entries []models.TimeEntry, r period.Range, threshold time.Duration) LowHoursReport {
	rep := LowHoursReport{Threshold: threshold}
	loc := r.Start.Location()

	perDay := make(map[string]map[string]time.Duration)
	for _, e := range entries {
		if !r.Contains(e.Start) {
			continue
		}
		p := personName(e)
		days, ok := perDay[p]
		if !ok {
			days = make(map[string]time.Duration)
			perDay[p] = days
		}
		days[e.Start.In(loc).Format(time.DateOnly)] += e.Duration
	}

	for _, p := range sortedKeys(perDay) {
		m := MemberHours{Person: p}
		for _, day := range sortedKeys(perDay[p]) {
			d := perDay[p][day]
			m.Tracked += d
			if d >= threshold {
				continue
			}
			date, _ := time.ParseInLocation(time.DateOnly, day, loc)
			m.ShortDays = append(m.ShortDays, DayHours{
				Date: day, Weekday: date.Weekday().String(), Tracked: d, Shortfall: threshold - d,
			})
		}
		m.DaysBelow = len(m.ShortDays)
		if m.DaysBelow == 0 {
			rep.Compliant = append(rep.Compliant, p)
			continue
		}
		rep.Flagged = append(rep.Flagged, m)
	}
	sort.SliceStable(rep.Flagged, func(i, j int) bool { return rep.Flagged[i].DaysBelow > rep.Flagged[j].DaysBelow })
	return rep
}
