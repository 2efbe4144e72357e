package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dj-oyu/posewatch/internal/engine"
	"github.com/dj-oyu/posewatch/internal/signal"
)

// run executes cmd and any batched children, returning the produced messages.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func closedEvents() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func TestChartEventUpdatesView(t *testing.T) {
	m := NewModel(closedEvents(), nil, nil)

	next, _ := m.Update(eventMsg{Chart: &engine.ChartEvent{
		Series:       signal.ChartSeries{310, 120, 0, 0, 0},
		HasSignal:    true,
		Average:      215,
		Threshold:    300,
		AlertEnabled: true,
		Frames:       42,
	}})
	m = next.(Model)

	if !m.connected || !m.controls.Enabled || m.controls.Threshold != 300 {
		t.Errorf("state = connected:%v controls:%+v", m.connected, m.controls)
	}
	view := m.View()
	for _, want := range []string{"live", "threshold 300", "alert on", "frames 42", "nose 310", "left_eye 120"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestAlertRingsBell(t *testing.T) {
	var bell bytes.Buffer
	m := NewModel(closedEvents(), nil, &bell)

	next, cmd := m.Update(eventMsg{Alert: &engine.AlertEvent{Average: 400, Threshold: 300}})
	m = next.(Model)
	run(cmd)

	if bell.String() != "\a" {
		t.Errorf("bell output = %q", bell.String())
	}
	if m.alerts != 1 || !strings.Contains(m.View(), "ALERT 400") {
		t.Errorf("alerts=%d view=%q", m.alerts, m.View())
	}
}

func TestStreamErrorMarksDisconnected(t *testing.T) {
	m := NewModel(closedEvents(), nil, nil)
	next, _ := m.Update(eventMsg{Chart: &engine.ChartEvent{}})
	next, _ = next.(Model).Update(eventMsg{Err: errors.New("connection refused")})
	m = next.(Model)

	if m.connected {
		t.Error("still connected after stream error")
	}
	if view := m.View(); !strings.Contains(view, "disconnected") || !strings.Contains(view, "connection refused") {
		t.Errorf("view = %q", view)
	}
}

func TestKeysApplyControls(t *testing.T) {
	var got []engine.ControlUpdate
	control := func(_ context.Context, u engine.ControlUpdate) (engine.Controls, error) {
		got = append(got, u)
		c := engine.DefaultControls()
		if u.Threshold != nil {
			c.Threshold = *u.Threshold
		}
		if u.Enabled != nil {
			c.Enabled = *u.Enabled
		}
		return c, nil
	}
	m := NewModel(closedEvents(), control, nil)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	for _, msg := range run(cmd) {
		next, _ = next.(Model).Update(msg)
	}
	m = next.(Model)
	if m.controls.Threshold != 310 {
		t.Errorf("threshold = %v, want 310", m.controls.Threshold)
	}

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	for _, msg := range run(cmd) {
		next, _ = next.(Model).Update(msg)
	}
	m = next.(Model)
	if !m.controls.Enabled {
		t.Error("alert not enabled by 'a'")
	}
	if len(got) != 2 {
		t.Errorf("control calls = %d", len(got))
	}
}

func TestThresholdClampedToRange(t *testing.T) {
	var sent float64
	control := func(_ context.Context, u engine.ControlUpdate) (engine.Controls, error) {
		sent = *u.Threshold
		return engine.Controls{Threshold: sent, Max: 480}, nil
	}
	m := NewModel(closedEvents(), control, nil)
	m.controls.Threshold = 475

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	run(cmd)
	if sent != 480 {
		t.Errorf("sent threshold = %v, want 480", sent)
	}
}

func TestControlErrorShown(t *testing.T) {
	m := NewModel(closedEvents(), nil, nil)
	next, _ := m.Update(controlsMsg{err: errors.New("controls rejected")})
	if !strings.Contains(next.(Model).View(), "controls rejected") {
		t.Error("control error not rendered")
	}
}
