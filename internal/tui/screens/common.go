package screens

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// NavigateMsg is sent when navigation to another screen is requested
type NavigateMsg struct {
	Screen string
	Full   bool
}

func Navigate(screen string) tea.Cmd {
	return func() tea.Msg {
		return NavigateMsg{Screen: screen}
	}
}

// NavigateToSync opens the sync screen, forcing a full run when full is set.
func NavigateToSync(full bool) tea.Cmd {
	return func() tea.Msg {
		return NavigateMsg{Screen: "sync", Full: full}
	}
}

// RefreshMsg is sent when data should be refreshed
type RefreshMsg struct{}

func Refresh() tea.Cmd {
	return func() tea.Msg {
		return RefreshMsg{}
	}
}

// FormatDuration renders whole minutes as "3h 05m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%s%dm", sign, m)
	}
	return fmt.Sprintf("%s%dh %02dm", sign, h, m)
}

// Palette, as 256-color codes.
const (
	colorAccent  = lipgloss.Color("205")
	colorMuted   = lipgloss.Color("241")
	colorText    = lipgloss.Color("252")
	colorOK      = lipgloss.Color("42")
	colorWarn    = lipgloss.Color("214")
	colorErr     = lipgloss.Color("196")
	colorOutline = lipgloss.Color("62")
)

var (
	TitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginBottom(1)
	SubtitleStyle = lipgloss.NewStyle().Foreground(colorMuted).MarginBottom(1)
	HelpStyle     = lipgloss.NewStyle().Foreground(colorMuted).MarginTop(1)
	NormalStyle   = lipgloss.NewStyle().Foreground(colorText)
	DimStyle      = lipgloss.NewStyle().Foreground(colorMuted)
	SuccessStyle  = lipgloss.NewStyle().Foreground(colorOK)
	WarningStyle  = lipgloss.NewStyle().Foreground(colorWarn)
	ErrorStyle    = lipgloss.NewStyle().Foreground(colorErr)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorOutline).
			Padding(1, 2)
)
