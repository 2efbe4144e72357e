package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/dj-oyu/posewatch/pkg/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("196")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Background(lipgloss.Color("39"))
	hotBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Background(lipgloss.Color("208"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

// alertFlash is how long the ALERT badge stays up.
const alertFlash = time.Second

// View renders the viewer.
func (m Model) View() string {
	var b strings.Builder

	status := okStyle.Render("● live")
	if !m.connected {
		status = errorStyle.Render("○ disconnected")
	}
	b.WriteString(titleStyle.Render("posewatch") + "  " + status)
	if m.lastAlert != nil && time.Since(m.alertAt) < alertFlash {
		b.WriteString("  " + alertStyle.Render(fmt.Sprintf("ALERT %.0f", m.lastAlert.Average)))
	}
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderBars()))
	b.WriteString("\n")

	alertState := "off"
	if m.controls.Enabled {
		alertState = "on"
	}
	avg := "n/a"
	if m.chart.HasSignal {
		avg = fmt.Sprintf("%.1f", m.chart.Average)
	}
	b.WriteString(fmt.Sprintf("threshold %.0f  alert %s  1s avg %s  frames %d  alerts %d\n",
		m.controls.Threshold, alertState, avg, m.chart.Frames, m.alerts))

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render("a toggle alert · +/- threshold · q quit"))
	return b.String()
}

func (m Model) renderBars() string {
	width := max(m.width-6, 30)
	height := max(m.height-10, 6)

	maxValue := m.controls.Max
	if maxValue <= 0 {
		maxValue = 480
	}

	barWidth := max((width-4*2)/len(types.KeypointNames), 1)
	bc := barchart.New(width, height,
		barchart.WithBarGap(2),
		barchart.WithBarWidth(barWidth),
		barchart.WithMaxValue(maxValue),
	)

	for i, name := range types.KeypointNames {
		v := m.chart.Series[i]
		style := barStyle
		if m.chart.HasSignal && v > m.controls.Threshold {
			style = hotBarStyle
		}
		bc.Push(barchart.BarData{
			Label: shortLabel(name, barWidth),
			Values: []barchart.BarValue{
				{Name: name, Value: v, Style: style},
			},
		})
	}

	bc.Draw()

	var legend []string
	for i, name := range types.KeypointNames {
		legend = append(legend, fmt.Sprintf("%s %.0f", name, m.chart.Series[i]))
	}
	return bc.View() + "\n" + dimStyle.Render(strings.Join(legend, "  "))
}

func shortLabel(name string, width int) string {
	if len(name) <= width {
		return name
	}
	return name[:width]
}
