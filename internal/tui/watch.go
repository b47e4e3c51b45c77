package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/tui/screens"
)

// JobSource is the part of the job manager a watcher talks to.
type JobSource interface {
	Poll(id string) (jobs.Status, error)
	Await(ctx context.Context, id string, maxWait time.Duration) (any, error)
}

type pollMsg struct {
	status jobs.Status
	err    error
}

type awaitMsg struct {
	result any
	err    error
}

// Watcher shows a spinner while a job runs. It polls until the job ends
// or the manager says to stop, then falls back to bounded waits for the
// result.
type Watcher struct {
	source   JobSource
	id       string
	name     string
	interval time.Duration
	spinner  spinner.Model

	status   jobs.Status
	awaiting bool
	done     bool
	result   any
	err      error
}

func NewWatcher(source JobSource, id, name string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = screens.SuccessStyle
	return &Watcher{source: source, id: id, name: name, interval: interval, spinner: s}
}

func (w *Watcher) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.poll(0))
}

func (w *Watcher) poll(after time.Duration) tea.Cmd {
	query := func() tea.Msg {
		st, err := w.source.Poll(w.id)
		return pollMsg{status: st, err: err}
	}
	if after == 0 {
		return query
	}
	return tea.Tick(after, func(time.Time) tea.Msg { return query() })
}

func (w *Watcher) await() tea.Msg {
	res, err := w.source.Await(context.Background(), w.id, 0)
	return awaitMsg{result: res, err: err}
}

func (w *Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			w.err = errors.New("stopped watching job " + w.id)
			return w, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd

	case pollMsg:
		if msg.err != nil {
			w.done, w.err = true, msg.err
			return w, tea.Quit
		}
		w.status = msg.status
		switch {
		case msg.status.State == jobs.StateFinished:
			w.done, w.result = true, msg.status.Result
			return w, tea.Quit
		case msg.status.State == jobs.StateFailed:
			w.done, w.err = true, fmt.Errorf("%w: %s", jobs.ErrJobFailed, msg.status.Error)
			return w, tea.Quit
		case msg.status.StopPolling:
			w.awaiting = true
			return w, w.await
		}
		return w, w.poll(w.interval)

	case awaitMsg:
		if errors.Is(msg.err, jobs.ErrJobNotFinished) {
			return w, w.await
		}
		w.done, w.result, w.err = true, msg.result, msg.err
		return w, tea.Quit
	}
	return w, nil
}

func (w *Watcher) View() string {
	if w.done {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ", w.spinner.View(), w.name)
	state := string(w.status.State)
	if state == "" {
		state = string(jobs.StateQueued)
	}
	b.WriteString(screens.DimStyle.Render(fmt.Sprintf("[%s, %d polls]", state, w.status.PollCount)))
	if w.awaiting {
		b.WriteString(screens.DimStyle.Render(" waiting for result"))
	}
	b.WriteString("\n")
	return b.String()
}

// Outcome returns what the watch ended with.
func (w *Watcher) Outcome() (any, error) {
	if !w.done && w.err == nil {
		return nil, jobs.ErrJobNotFinished
	}
	return w.result, w.err
}

// WatchJob runs a watcher in the terminal and returns the job's result.
func WatchJob(source JobSource, id, name string) (any, error) {
	w := NewWatcher(source, id, name, 500*time.Millisecond)
	if _, err := tea.NewProgram(w).Run(); err != nil {
		return nil, err
	}
	return w.Outcome()
}

// WaitPlain is the non-interactive counterpart of WatchJob: it polls until
// told to stop and then waits for the result in bounded steps.
func WaitPlain(ctx context.Context, source JobSource, id string, interval time.Duration) (any, error) {
	for {
		st, err := source.Poll(id)
		if err != nil {
			return nil, err
		}
		switch st.State {
		case jobs.StateFinished:
			return st.Result, nil
		case jobs.StateFailed:
			return nil, fmt.Errorf("%w: %s", jobs.ErrJobFailed, st.Error)
		}
		if st.StopPolling {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	for {
		res, err := source.Await(ctx, id, 0)
		if !errors.Is(err, jobs.ErrJobNotFinished) {
			return res, err
		}
	}
}
