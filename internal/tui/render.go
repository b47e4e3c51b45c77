package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/mirror"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/tui/screens"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// RenderReport lays a report out as a header followed by one or more
// tables.
func RenderReport(r *analytics.Report) string {
	var b strings.Builder

	b.WriteString(screens.TitleStyle.Render(strings.ToUpper(string(r.Kind))))
	b.WriteString("\n")
	sub := fmt.Sprintf("%s (%s) · %d tasks · source %s", r.Scope.Name, r.Scope.Scope.Key(), r.Tasks, r.Source)
	if r.Period != nil {
		sub += fmt.Sprintf(" · %s %s..%s", r.Period.Kind, r.Period.Start, r.Period.End)
	}
	b.WriteString(screens.SubtitleStyle.Render(sub))
	b.WriteString("\n")

	switch {
	case r.Time != nil:
		renderTime(&b, r.Time)
	case r.Missing != nil:
		renderMissing(&b, r.Missing)
	case r.Ratios != nil:
		renderRatios(&b, r.Ratios)
	case r.Overtime != nil:
		renderOvertime(&b, r.Overtime)
	case r.LowHours != nil:
		renderLowHours(&b, r.LowHours)
	case r.Accuracy != nil:
		renderAccuracy(&b, r.Accuracy)
	case r.Status != nil:
		renderStatus(&b, r.Status)
	case r.Workload != nil:
		renderWorkload(&b, r.Workload)
	case r.Stale != nil:
		renderStale(&b, r.Stale)
	case r.AtRisk != nil:
		renderAtRisk(&b, r.AtRisk)
	}

	if r.Partial {
		b.WriteString("\n")
		b.WriteString(screens.WarningStyle.Render("Partial result: some parent tasks could not be resolved"))
		b.WriteString("\n")
	}
	for _, w := range r.Warnings {
		b.WriteString(screens.DimStyle.Render("  ! " + w))
		b.WriteString("\n")
	}
	return b.String()
}

func renderTime(b *strings.Builder, rep *analytics.TimeReport) {
	t := newTable(strings.ToUpper(string(rep.GroupBy)), "TRACKED", "ENTRIES", "TASKS", "PEOPLE")
	for _, r := range rep.Rows {
		t.Row(r.Key, screens.FormatDuration(r.Tracked), strconv.Itoa(r.Entries), strconv.Itoa(r.Tasks), strconv.Itoa(r.People))
	}
	b.WriteString(t.String())
	fmt.Fprintf(b, "\nTotal: %s\n", screens.FormatDuration(rep.Total))
}

func renderMissing(b *strings.Builder, rep *analytics.MissingReport) {
	fmt.Fprintf(b, "%d of %d tasks have no estimate (%d worked on, %d never started)\n",
		rep.Flagged, rep.Checked, rep.WorkedUnplanned, rep.NeverStarted)
	if rep.SkippedUnknown > 0 {
		fmt.Fprintf(b, "%d skipped: parent could not be resolved\n", rep.SkippedUnknown)
	}

	t := newTable("PERSON", "TASK", "LIST", "STATUS", "TRACKED")
	for _, g := range rep.ByPerson {
		for _, task := range g.Tasks {
			t.Row(g.Person, task.Name, task.ListName, task.Status, screens.FormatDuration(task.Tracked))
		}
	}
	for _, task := range rep.Unassigned {
		t.Row("(unassigned)", task.Name, task.ListName, task.Status, screens.FormatDuration(task.Tracked))
	}
	b.WriteString(t.String())
	b.WriteString("\n")
}

func renderRatios(b *strings.Builder, rep *analytics.RatioReport) {
	fmt.Fprintf(b, "%d checked, %d over %.2fx, %d under %.2fx\n", rep.Checked, rep.Over, rep.High, rep.Under, rep.Low)

	t := newTable("TASK", "LIST", "TRACKED", "ESTIMATE", "RATIO", "")
	for _, r := range rep.Tasks {
		t.Row(r.Name, r.ListName, screens.FormatDuration(r.Tracked), screens.FormatDuration(r.Estimate),
			fmt.Sprintf("%.2fx", r.Ratio), string(r.Direction))
	}
	b.WriteString(t.String())
	b.WriteString("\n")
}

func renderOvertime(b *strings.Builder, rep *analytics.OvertimeReport) {
	t := newTable("TASK", "ESTIMATE", "TRACKED", "OVER", "SPLIT")
	for _, task := range rep.Tasks {
		var split []string
		for _, s := range task.Shares {
			split = append(split, s.Person+" "+screens.FormatDuration(s.Overage))
		}
		t.Row(task.Name, screens.FormatDuration(task.Estimate), screens.FormatDuration(task.Tracked),
			screens.FormatDuration(task.Overage), strings.Join(split, ", "))
	}
	b.WriteString(t.String())
	b.WriteString("\n")

	people := newTable("PERSON", "TASKS", "OVER")
	for _, p := range rep.ByPerson {
		people.Row(p.Person, strconv.Itoa(p.Tasks), screens.FormatDuration(p.Overage))
	}
	b.WriteString(people.String())
	b.WriteString("\n")
}

func renderLowHours(b *strings.Builder, rep *analytics.LowHoursReport) {
	fmt.Fprintf(b, "Days under %s\n", screens.FormatDuration(rep.Threshold))

	t := newTable("PERSON", "DATE", "DAY", "TRACKED", "SHORT")
	for _, m := range rep.Flagged {
		for _, d := range m.ShortDays {
			t.Row(m.Person, d.Date, d.Weekday, screens.FormatDuration(d.Tracked), screens.FormatDuration(d.Shortfall))
		}
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	if len(rep.Compliant) > 0 {
		b.WriteString(screens.SuccessStyle.Render("On target: " + strings.Join(rep.Compliant, ", ")))
		b.WriteString("\n")
	}
}

func renderAccuracy(b *strings.Builder, rep *analytics.AccuracyReport) {
	t := newTable("ESTIMATED", "ACCURATE", "OVER", "UNDER", "UNESTIMATED", "RATIO", "ACCURACY")
	t.Row(strconv.Itoa(rep.Estimated), strconv.Itoa(rep.Accurate), strconv.Itoa(rep.Over), strconv.Itoa(rep.Under),
		strconv.Itoa(rep.Unestimated), fmt.Sprintf("%.2fx", rep.Ratio), fmt.Sprintf("%.1f%%", rep.AccuracyPc))
	b.WriteString(t.String())
	fmt.Fprintf(b, "\nTracked %s against %s estimated\n", screens.FormatDuration(rep.Tracked), screens.FormatDuration(rep.Estimate))
}

func renderStatus(b *strings.Builder, rep *analytics.StatusReport) {
	cats := newTable("CATEGORY", "TASKS")
	for _, c := range rep.ByCategory {
		cats.Row(string(c.Category), strconv.Itoa(c.Count))
	}
	b.WriteString(cats.String())
	b.WriteString("\n")

	t := newTable("STATUS", "CATEGORY", "TASKS")
	for _, s := range rep.ByStatus {
		t.Row(s.Status, string(s.Category), strconv.Itoa(s.Count))
	}
	b.WriteString(t.String())
	fmt.Fprintf(b, "\n%d tasks\n", rep.Total)
}

func renderWorkload(b *strings.Builder, rep *analytics.WorkloadReport) {
	fmt.Fprintf(b, "%d active tasks, %.2f per person\n", rep.TotalActive, rep.Average)
	t := newTable("PERSON", "ACTIVE", "ESTIMATE", "TRACKED", "")
	for _, r := range rep.Rows {
		t.Row(r.Person, strconv.Itoa(r.Active), screens.FormatDuration(r.Estimate),
			screens.FormatDuration(r.Tracked), string(r.Level))
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	for _, n := range rep.Notes {
		b.WriteString("  " + n + "\n")
	}
}

func renderStale(b *strings.Builder, rep *analytics.StaleReport) {
	fmt.Fprintf(b, "%d open tasks untouched since %s\n", len(rep.Tasks), rep.Cutoff.Format(time.DateOnly))
	t := newTable("TASK", "LIST", "STATUS", "LAST UPDATE", "IDLE DAYS")
	for _, s := range rep.Tasks {
		last, idle := "never", "-"
		if s.LastUpdate != nil {
			last, idle = s.LastUpdate.Format(time.DateOnly), strconv.Itoa(s.IdleDays)
		}
		t.Row(s.Name, s.ListName, s.Status, last, idle)
	}
	b.WriteString(t.String())
	b.WriteString("\n")
}

func renderAtRisk(b *strings.Builder, rep *analytics.AtRiskReport) {
	fmt.Fprintf(b, "%d overdue, %d due within %s\n", rep.Overdue, rep.DueSoon, screens.FormatDuration(rep.Window))
	t := newTable("TASK", "LIST", "ASSIGNEES", "DUE", "")
	for _, r := range rep.Tasks {
		t.Row(r.Name, r.ListName, strings.Join(r.Assignees, ", "), r.Due.Format(time.DateOnly), string(r.Risk))
	}
	b.WriteString(t.String())
	b.WriteString("\n")
}

// RenderRun summarizes a sync run.
func RenderRun(r *mirror.RunReport) string {
	if r.Skipped {
		return screens.WarningStyle.Render("Sync skipped: another run is in progress")
	}
	t := newTable("RUN", "MODE", "LISTS", "FETCHED", "SAVED", "FAILED", "ENTRIES", "DELETED", "TOOK")
	t.Row(strconv.FormatInt(r.Run, 10), string(r.Mode), strconv.Itoa(r.Lists), strconv.Itoa(r.Fetched),
		strconv.Itoa(r.Upserted), strconv.Itoa(r.Failed), strconv.Itoa(r.Entries),
		strconv.FormatInt(r.Deleted, 10), r.Duration.Round(time.Millisecond).String())
	return t.String()
}

func RenderEmployees(employees []models.Employee) string {
	t := newTable("USER ID", "NAME", "EMAIL", "ROLE")
	for _, e := range employees {
		t.Row(e.RemoteUserID, e.Name, e.Email, e.Role)
	}
	return t.String()
}

func RenderMappings(mappings []models.ProjectMapping) string {
	if len(mappings) == 0 {
		return screens.DimStyle.Render("No scopes mapped yet.")
	}
	t := newTable("ALIAS", "TYPE", "REMOTE ID", "NAME", "LISTS", "DISCOVERED")
	for _, m := range mappings {
		discovered := "-"
		if m.LastSync != nil {
			discovered = m.LastSync.Local().Format("2006-01-02 15:04")
		}
		t.Row(m.Alias, string(m.Type), m.RemoteID, m.Name, strconv.Itoa(countLists(m.Structure)), discovered)
	}
	return t.String()
}

func countLists(n models.HierarchyNode) int {
	if n.Type == models.NodeList {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += countLists(c)
	}
	return total
}
