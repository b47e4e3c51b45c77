package screens

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/repository"
)

type Dashboard struct {
	db     *sql.DB
	width  int
	height int

	state    *models.SyncState
	stats    *repository.TaskStats
	mappings []models.ProjectMapping
	loading  bool
	err      error
}

func NewDashboard(db *sql.DB) *Dashboard {
	return &Dashboard{
		db:      db,
		loading: true,
	}
}

func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

type dashboardDataMsg struct {
	state    *models.SyncState
	stats    *repository.TaskStats
	mappings []models.ProjectMapping
	err      error
}

func (d *Dashboard) Init() tea.Cmd {
	d.loading = true
	return d.loadData
}

func (d *Dashboard) loadData() tea.Msg {
	ctx := context.Background()

	state, err := repository.NewSyncStateRepo(d.db).Get(ctx)
	if err != nil {
		return dashboardDataMsg{err: err}
	}

	stats, err := repository.NewTaskRepo(d.db).Stats(ctx)
	if err != nil {
		return dashboardDataMsg{err: err}
	}

	mappings, err := repository.NewMappingRepo(d.db).GetAll(ctx)
	if err != nil {
		return dashboardDataMsg{err: err}
	}

	return dashboardDataMsg{state: state, stats: stats, mappings: mappings}
}

func (d *Dashboard) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.loading = false
		d.err = msg.err
		d.state = msg.state
		d.stats = msg.stats
		d.mappings = msg.mappings
		return nil

	case RefreshMsg:
		return d.Init()

	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			return NavigateToSync(false)
		case "f":
			return NavigateToSync(true)
		case "r":
			return Refresh()
		}
	}

	return nil
}

func (d *Dashboard) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("CLICKMIRROR"))
	b.WriteString("\n")
	b.WriteString(SubtitleStyle.Render("Workspace mirror"))
	b.WriteString("\n\n")

	if d.loading {
		b.WriteString("Loading...\n")
		return b.String()
	}

	if d.err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", d.err)))
		b.WriteString("\n")
		return b.String()
	}

	statsContent := fmt.Sprintf(
		"Last sync: %s\nRuns: %d (last %s)\nTasks: %d live, %d deleted, %d lists\nTracked: %s  Estimated: %s",
		d.formatLastSync(),
		d.state.RunCount,
		orDash(d.state.LastMode),
		d.stats.Total-d.stats.Deleted,
		d.stats.Deleted,
		d.stats.Lists,
		FormatDuration(minutes(d.stats.Tracked)),
		FormatDuration(minutes(d.stats.Estimate)),
	)
	if d.state.LastError != "" {
		statsContent += "\n" + ErrorStyle.Render("Last error: "+d.state.LastError)
	}
	b.WriteString(BoxStyle.Render(statsContent))
	b.WriteString("\n\n")

	if len(d.mappings) > 0 {
		b.WriteString(SubtitleStyle.Render("Mapped scopes"))
		b.WriteString("\n")
		for _, m := range d.mappings {
			b.WriteString(fmt.Sprintf("  %s - %s %s (%s)\n",
				NormalStyle.Render(m.Alias),
				m.Type,
				m.Name,
				m.RemoteID,
			))
		}
	} else {
		b.WriteString(DimStyle.Render("No scopes mapped yet. Use 'clickmirror map add'."))
	}

	b.WriteString("\n")

	help := "[s] Sync  [f] Full sync  [r] Refresh  [q] Quit"
	b.WriteString(HelpStyle.Render(help))

	return b.String()
}

func (d *Dashboard) formatLastSync() string {
	if d.state.LastSuccessAt == nil {
		return WarningStyle.Render("never")
	}
	return SuccessStyle.Render(d.state.LastSuccessAt.Local().Format("Jan 02, 2006 15:04"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func minutes(n int64) time.Duration { return time.Duration(n) * time.Minute }
