package screens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/emilianohg/clickmirror/internal/mirror"
)

// SyncRunner is the part of the sync engine the screen drives.
type SyncRunner interface {
	Run(ctx context.Context) (*mirror.RunReport, error)
	RunFull(ctx context.Context) (*mirror.RunReport, error)
}

type syncMode int

const (
	syncModeConfirm syncMode = iota
	syncModeRunning
	syncModeComplete
)

type Sync struct {
	runner SyncRunner
	width  int
	height int

	mode    syncMode
	full    bool
	spinner spinner.Model
	report  *mirror.RunReport
	err     error
}

func NewSync(runner SyncRunner) *Sync {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SuccessStyle
	return &Sync{runner: runner, spinner: s}
}

func (s *Sync) SetSize(width, height int) {
	s.width = width
	s.height = height
}

// SetFull selects a forced full run for the next start.
func (s *Sync) SetFull(full bool) { s.full = full }

type syncDoneMsg struct {
	report *mirror.RunReport
	err    error
}

func (s *Sync) Init() tea.Cmd {
	s.mode = syncModeConfirm
	s.report = nil
	s.err = nil
	return nil
}

func (s *Sync) run() tea.Msg {
	ctx := context.Background()
	if s.full {
		rep, err := s.runner.RunFull(ctx)
		return syncDoneMsg{report: rep, err: err}
	}
	rep, err := s.runner.Run(ctx)
	return syncDoneMsg{report: rep, err: err}
}

func (s *Sync) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case syncDoneMsg:
		s.mode = syncModeComplete
		s.report = msg.report
		s.err = msg.err
		return nil

	case spinner.TickMsg:
		if s.mode != syncModeRunning {
			return nil
		}
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(msg)
		return cmd

	case tea.KeyMsg:
		return s.handleKey(msg)
	}

	return nil
}

func (s *Sync) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch s.mode {
	case syncModeConfirm:
		switch msg.String() {
		case "enter", "y":
			s.mode = syncModeRunning
			return tea.Batch(s.spinner.Tick, s.run)
		case "f":
			s.full = !s.full
		case "q", "esc", "n":
			return Navigate("dashboard")
		}
	case syncModeComplete:
		switch msg.String() {
		case "enter", "q", "esc":
			return Navigate("dashboard")
		}
	}
	return nil
}

func (s *Sync) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("SYNC"))
	b.WriteString("\n\n")

	switch s.mode {
	case syncModeConfirm:
		mode := "scheduled (incremental unless a full run is due)"
		if s.full {
			mode = "full"
		}
		b.WriteString(fmt.Sprintf("Mode: %s\n\n", NormalStyle.Render(mode)))
		b.WriteString("Start sync? (y/n)\n")
		b.WriteString(HelpStyle.Render("[y/enter] Start  [f] Toggle full  [n/esc] Cancel"))

	case syncModeRunning:
		b.WriteString(fmt.Sprintf("%s Syncing...\n", s.spinner.View()))

	case syncModeComplete:
		s.viewComplete(&b)
	}

	return b.String()
}

func (s *Sync) viewComplete(b *strings.Builder) {
	switch {
	case errors.Is(s.err, mirror.ErrSyncInProgress):
		b.WriteString(WarningStyle.Render("Another sync is already running."))
	case s.err != nil:
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Sync failed: %v", s.err)))
	default:
		r := s.report
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("Run %d (%s) complete", r.Run, r.Mode)))
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("Lists: %d\nFetched: %d  Saved: %d  Failed: %d\nTime entries: %d\nMarked deleted: %d\nTook: %s\n",
			r.Lists, r.Fetched, r.Upserted, r.Failed, r.Entries, r.Deleted, r.Duration.Round(100*time.Millisecond)))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("[enter] Done"))
}
