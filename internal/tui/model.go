package tui

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dj-oyu/posewatch/internal/engine"
)

// thresholdStep is how far +/- move the threshold.
const thresholdStep = 10.0

type eventMsg Event

type controlsMsg struct {
	controls engine.Controls
	err      error
}

// ControlFunc applies a control update on the server.
type ControlFunc func(ctx context.Context, u engine.ControlUpdate) (engine.Controls, error)

// Model is the bubbletea model of the viewer.
type Model struct {
	events  <-chan Event
	control ControlFunc
	bell    io.Writer

	width  int
	height int

	chart     engine.ChartEvent
	controls  engine.Controls
	haveState bool
	connected bool
	alerts    int
	lastAlert *engine.AlertEvent
	alertAt   time.Time
	err       error
}

// NewModel builds a viewer reading events. bell receives a BEL per alert and
// may be nil to stay silent.
func NewModel(events <-chan Event, control ControlFunc, bell io.Writer) Model {
	return Model{
		events:   events,
		control:  control,
		bell:     bell,
		width:    80,
		height:   24,
		controls: engine.DefaultControls(),
	}
}

func waitForEvent(events <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return eventMsg(ev)
	}
}

func (m Model) ringBell() tea.Cmd {
	if m.bell == nil {
		return nil
	}
	w := m.bell
	return func() tea.Msg {
		_, _ = io.WriteString(w, "\a")
		return nil
	}
}

func (m Model) apply(u engine.ControlUpdate) tea.Cmd {
	if m.control == nil {
		return nil
	}
	control := m.control
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		c, err := control(ctx, u)
		return controlsMsg{controls: c, err: err}
	}
}

// Init starts listening for stream events.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

// Update handles stream events, key presses and resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "a":
			enabled := !m.controls.Enabled
			return m, m.apply(engine.ControlUpdate{Enabled: &enabled})
		case "+", "=", "up":
			v := min(m.controls.Threshold+thresholdStep, m.controls.Max)
			return m, m.apply(engine.ControlUpdate{Threshold: &v})
		case "-", "down":
			v := max(m.controls.Threshold-thresholdStep, m.controls.Min)
			return m, m.apply(engine.ControlUpdate{Threshold: &v})
		}
		return m, nil

	case controlsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.controls = msg.controls
		return m, nil

	case eventMsg:
		cmds := []tea.Cmd{waitForEvent(m.events)}
		switch {
		case msg.Err != nil:
			m.connected = false
			m.err = msg.Err
		case msg.Chart != nil:
			m.connected = true
			m.err = nil
			m.chart = *msg.Chart
			m.haveState = true
			m.controls.Threshold = msg.Chart.Threshold
			m.controls.Enabled = msg.Chart.AlertEnabled
		case msg.Controls != nil:
			m.controls = *msg.Controls
		case msg.Alert != nil:
			m.alerts++
			m.lastAlert = msg.Alert
			m.alertAt = time.Now()
			cmds = append(cmds, m.ringBell())
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}
