package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"node.town/parley/session"
)

type fakeController struct {
	state    session.State
	startErr error
	starts   int
	stops    int
}

func (c *fakeController) Start(ctx context.Context) error {
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.state = session.Listening
	return nil
}

func (c *fakeController) Stop() error {
	c.stops++
	c.state = session.Idle
	return nil
}

func (c *fakeController) State() session.State {
	return c.state
}

func newTestModel(ctrl *fakeController) (Model, *session.Monitor) {
	monitor := session.NewMonitor(8)
	return New(ctrl, monitor), monitor
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestToggleStartsAndStops(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(ctrl)

	next, cmd := m.Update(key('s'))
	if cmd == nil {
		t.Fatalf("Expected a toggle command")
	}
	next, _ = next.Update(cmd())
	if ctrl.starts != 1 || ctrl.state != session.Listening {
		t.Fatalf("Expected session started")
	}

	next, cmd = next.Update(key('s'))
	next.Update(cmd())
	if ctrl.stops != 1 || ctrl.state != session.Idle {
		t.Errorf("Expected session stopped")
	}
}

func TestToggleIgnoredWhileBusy(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(ctrl)

	next, _ := m.Update(key('s'))
	if _, cmd := next.Update(key('s')); cmd != nil {
		t.Errorf("Second toggle before the first finished should be ignored")
	}
}

func TestStartErrorShown(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("config error: validate: missing key")}
	m, _ := newTestModel(ctrl)

	next, cmd := m.Update(key('s'))
	next, _ = next.Update(cmd())

	if view := next.View(); !strings.Contains(view, "missing key") {
		t.Errorf("Expected error in view, got:\n%s", view)
	}
}

func TestObservationsRendered(t *testing.T) {
	ctrl := &fakeController{}
	m, monitor := newTestModel(ctrl)

	observations := []session.Observation{
		{Kind: session.StateObserved, State: session.Listening},
		{Kind: session.TranscriptObserved, Text: "what is the weather"},
		{Kind: session.ResponseObserved, Text: "sunny and warm"},
		{Kind: session.InterimObserved, Text: "and tomor"},
	}

	var next tea.Model = m
	for _, o := range observations {
		monitor.Observe(o)
		next, _ = next.Update(observationMsg(o))
	}

	view := next.View()
	for _, want := range []string{"listening", "what is the weather", "sunny and warm", "and tomor"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected %q in view:\n%s", want, view)
		}
	}
}

func TestQuitStopsSession(t *testing.T) {
	ctrl := &fakeController{state: session.Listening}
	m, _ := newTestModel(ctrl)

	_, cmd := m.Update(key('q'))
	if cmd == nil {
		t.Fatalf("Expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("Expected QuitMsg")
	}
	if ctrl.stops != 1 {
		t.Errorf("Quit should stop the session first")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	for i := 0; i < historyLimit+10; i++ {
		m.push(line{speaker: "you", text: "hi"})
	}
	if len(m.history) != historyLimit {
		t.Errorf("Expected %d lines, got %d", historyLimit, len(m.history))
	}
}
