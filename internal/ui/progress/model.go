// Package progress renders a live view of a sync or rename run.
package progress

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/attachsync/internal/keys"
	"github.com/nhle/attachsync/internal/model"
	appsync "github.com/nhle/attachsync/internal/sync"
	"github.com/nhle/attachsync/internal/theme"
)

// recentFiles is how many stored files the view keeps on screen.
const recentFiles = 8

// EventMsg carries a progress event from the running workflow.
type EventMsg appsync.Event

// DoneMsg signals that the workflow returned.
type DoneMsg struct {
	Result appsync.Result
	Err    error
}

// Model is the Bubble Tea model for the progress view.
type Model struct {
	title   string
	cancel  context.CancelFunc
	keys    *keys.KeyMap
	help    help.Model
	spinner spinner.Model

	stage      string
	discovered int
	downloaded int
	written    int
	skipped    int
	renamed    int
	files      []model.StoredFile
	showFiles  bool

	stopping bool
	done     bool
	result   appsync.Result
	err      error
	width    int
}

// New creates a progress view. cancel is called when the user asks to
// stop the run.
func New(title string, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.SpinnerStyle

	return Model{
		title:     title,
		cancel:    cancel,
		keys:      keys.DefaultKeyMap(),
		help:      help.New(),
		spinner:   sp,
		stage:     "starting...",
		showFiles: true,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles workflow events and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		m.apply(appsync.Event(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.stopping {
			return m, tea.Quit
		}
		m.stopping = true
		m.stage = "stopping..."
		if m.cancel != nil {
			m.cancel()
		}
		return m, nil
	case key.Matches(msg, m.keys.Files):
		m.showFiles = !m.showFiles
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) apply(ev appsync.Event) {
	switch ev.Kind {
	case appsync.EventStage:
		if !m.stopping {
			m.stage = ev.Message
		}
	case appsync.EventDiscovered:
		m.discovered = ev.Count
	case appsync.EventDownloaded:
		m.downloaded = ev.Count
	case appsync.EventFile:
		switch ev.File.Status {
		case model.StatusWritten:
			m.written++
		case model.StatusRenamed:
			m.renamed++
		default:
			m.skipped++
		}
		m.files = append(m.files, ev.File)
		if len(m.files) > recentFiles {
			m.files = m.files[len(m.files)-recentFiles:]
		}
	case appsync.EventDone:
		m.result = ev.Result
	}
}

// Result returns the outcome reported by DoneMsg.
func (m Model) Result() (appsync.Result, error) {
	return m.result, m.err
}

// View renders the progress view.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(theme.HeaderStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(m.viewSummary())
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.spinner.View() + " " + m.stage)
	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(fmt.Sprintf(
		"%d emails discovered | %d attachments downloaded | %d written | %d skipped | %d renamed",
		m.discovered, m.downloaded, m.written, m.skipped, m.renamed,
	)))
	b.WriteString("\n")

	if m.showFiles && len(m.files) > 0 {
		b.WriteString("\n")
		for _, f := range m.files {
			status := theme.StatusStyle(f.Status).Render(fmt.Sprintf("%-8s", f.Status))
			b.WriteString(status + " " + f.Path + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewSummary() string {
	if m.err != nil {
		return theme.ErrorStyle.Render("failed: " + m.err.Error())
	}

	lines := []string{
		fmt.Sprintf("written  %d", m.result.Written),
		fmt.Sprintf("skipped  %d", m.result.Skipped),
	}
	if m.result.Renamed > 0 {
		lines = append(lines, fmt.Sprintf("renamed  %d", m.result.Renamed))
	}
	if m.result.CachedEmails > 0 {
		lines = append(lines, fmt.Sprintf("cached   %d emails, %d files",
			m.result.CachedEmails, m.result.CachedFiles))
	}
	lines = append(lines, fmt.Sprintf("took     %s", m.result.Duration.Round(time.Millisecond)))

	return theme.SummaryStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Work is a workflow run that reports progress through a ProgressFunc.
type Work func(ctx context.Context, progress appsync.ProgressFunc) (appsync.Result, error)

// Run executes work while rendering the progress view on stderr. It
// returns work's outcome; leaving the view early cancels work and waits
// for it to return.
func Run(ctx context.Context, title string, work Work) (appsync.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(title, cancel), tea.WithOutput(os.Stderr))

	type outcome struct {
		res appsync.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := work(ctx, func(ev appsync.Event) {
			p.Send(EventMsg(ev))
		})
		done <- outcome{res: res, err: err}
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return appsync.Result{}, fmt.Errorf("running progress view: %w", err)
	}

	cancel()
	out := <-done
	return out.res, out.err
}
