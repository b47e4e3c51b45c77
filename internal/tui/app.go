package tui

import (
	"database/sql"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/emilianohg/clickmirror/internal/tui/screens"
)

type Screen string

const (
	ScreenDashboard Screen = "dashboard"
	ScreenSync      Screen = "sync"
)

// screen is what every page of the app implements. Update returns only a
// command; the app owns the model.
type screen interface {
	Init() tea.Cmd
	Update(msg tea.Msg) tea.Cmd
	View() string
	SetSize(width, height int)
}

type App struct {
	current Screen
	screens map[Screen]screen
	sync    *screens.Sync

	width  int
	height int
}

func NewApp(db *sql.DB, runner screens.SyncRunner) *App {
	sync := screens.NewSync(runner)
	return &App{
		current: ScreenDashboard,
		sync:    sync,
		screens: map[Screen]screen{
			ScreenDashboard: screens.NewDashboard(db),
			ScreenSync:      sync,
		},
	}
}

func (a *App) Init() tea.Cmd {
	return a.active().Init()
}

func (a *App) active() screen { return a.screens[a.current] }

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		// Other screens use q to go back.
		if msg.String() == "q" && a.current == ScreenDashboard {
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		for _, s := range a.screens {
			s.SetSize(msg.Width, msg.Height)
		}
		return a, nil

	case screens.NavigateMsg:
		next, ok := a.screens[Screen(msg.Screen)]
		if !ok {
			return a, nil
		}
		a.current = Screen(msg.Screen)
		if a.current == ScreenSync {
			a.sync.SetFull(msg.Full)
		}
		return a, next.Init()
	}

	return a, a.active().Update(msg)
}

func (a *App) View() string {
	return lipgloss.NewStyle().
		Width(a.width).
		Height(a.height).
		Render(a.active().View())
}

// Run starts the dashboard in the alternate screen and blocks until quit.
func Run(db *sql.DB, runner screens.SyncRunner) error {
	_, err := tea.NewProgram(NewApp(db, runner), tea.WithAltScreen()).Run()
	return err
}
