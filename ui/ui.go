package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/parley/etc"
	"node.town/parley/session"
)

type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	State() session.State
}

type Feed interface {
	Status() session.Status
	Updates() <-chan session.Observation
}

type line struct {
	speaker string
	text    string
}

const historyLimit = 50

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	listeningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true)
	interimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	youStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8800")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

type Model struct {
	ctrl    Controller
	feed    Feed
	spinner spinner.Model

	status  session.Status
	history []line
	err     string
	width   int
	busy    bool
}

type observationMsg session.Observation

type toggledMsg struct {
	err error
}

func New(ctrl Controller, feed Feed) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = assistantStyle
	return Model{ctrl: ctrl, feed: feed, spinner: s, status: feed.Status()}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForObservation(m.feed.Updates()))
}

func waitForObservation(updates <-chan session.Observation) tea.Cmd {
	return func() tea.Msg {
		o, ok := <-updates
		if !ok {
			return nil
		}
		return observationMsg(o)
	}
}

func toggle(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if ctrl.State() == session.Listening {
			return toggledMsg{err: ctrl.Stop()}
		}
		return toggledMsg{err: ctrl.Start(context.Background())}
	}
}

func quit(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Stop()
		return tea.Quit()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, quit(m.ctrl)
		case "s", " ":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.err = ""
			return m, toggle(m.ctrl)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case toggledMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		m.status = m.feed.Status()

	case observationMsg:
		m.observe(session.Observation(msg))
		return m, waitForObservation(m.feed.Updates())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) observe(o session.Observation) {
	m.status = m.feed.Status()

	switch o.Kind {
	case session.TranscriptObserved:
		m.push(line{speaker: "you", text: o.Text})
	case session.ResponseObserved:
		m.push(line{speaker: "assistant", text: o.Text})
	case session.ErrorObserved:
		if o.Err != nil {
			m.err = o.Err.Error()
		}
	case session.StateObserved:
		if o.State == session.Listening {
			m.err = ""
		}
	}
}

func (m *Model) push(l line) {
	m.history = append(m.history, l)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")

	for _, l := range m.history {
		style := youStyle
		if l.speaker == "assistant" {
			style = assistantStyle
		}
		b.WriteString(fmt.Sprintf("%s %s\n", style.Render(l.speaker+":"), l.text))
	}

	if m.status.Interim != "" {
		b.WriteString(interimStyle.Render(m.status.Interim))
		b.WriteString("\n")
	}
	if m.status.Loading {
		b.WriteString(m.spinner.View())
		b.WriteString(" thinking\n")
	}
	if m.err != "" {
		b.WriteString(errorStyle.Render(etc.Truncate(m.err, m.lineWidth())))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s/space start or stop • q quit"))
	return b.String()
}

func (m Model) headerView() string {
	title := titleStyle.Render("parley")
	state := idleStyle.Render("idle")
	if m.status.State == session.Listening {
		state = listeningStyle.Render("● listening")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", state)
}

func (m Model) lineWidth() int {
	if m.width <= 0 {
		return 120
	}
	return m.width
}

// Run blocks until the user quits.
func Run(ctrl Controller, feed Feed) error {
	_, err := tea.NewProgram(New(ctrl, feed)).Run()
	return err
}
