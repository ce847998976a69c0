// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"micscope/internal/analysis"
	"micscope/internal/stream"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the streamer as seen by the meter. *stream.Streamer
// satisfies it.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Status() stream.Status
	Analyser() *analysis.Analyser
}

// RefreshInterval is how often the meter redraws.
const RefreshInterval = 50 * time.Millisecond

var (
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)

	statusStyles = map[stream.Status]lipgloss.Style{
		stream.StatusIdle:     dimStyle,
		stream.StatusStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		stream.StatusActive:   highlightStyle,
		stream.StatusError:    errorStyle,
	}

	sparkRunes = []rune("▁▂▃▄▅▆▇█")
)

type meterKeys struct {
	Toggle key.Binding
	Quit   key.Binding
}

var meterKeyMap = meterKeys{
	Toggle: key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "start/stop")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// toggledMsg carries the result of a Start or Stop.
type toggledMsg struct{ err error }

// MeterModel shows the live level, band levels and spectrum of a streamer.
type MeterModel struct {
	ctl   Controller
	ctx   context.Context
	title string
	width int

	status stream.Status
	snap   analysis.Snapshot
	live   bool
	err    error
}

// NewMeterModel returns a meter driving ctl. ctx bounds device acquisition.
func NewMeterModel(ctx context.Context, ctl Controller, title string) MeterModel {
	return MeterModel{ctl: ctl, ctx: ctx, title: title, width: 64}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker and the microphone.
func (m MeterModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.toggle())
}

// Update handles input, refresh ticks and toggle results.
func (m MeterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width-4, 16)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, meterKeyMap.Quit):
			return m, tea.Quit
		case key.Matches(msg, meterKeyMap.Toggle):
			return m, m.toggle()
		}

	case toggledMsg:
		m.err = msg.err

	case tickMsg:
		m.refresh()
		return m, tick()
	}
	return m, nil
}

// toggle stops a running streamer or starts an idle one off the UI goroutine.
func (m MeterModel) toggle() tea.Cmd {
	ctl, ctx := m.ctl, m.ctx
	switch m.ctl.Status() {
	case stream.StatusStarting, stream.StatusActive:
		return func() tea.Msg { return toggledMsg{err: ctl.Stop()} }
	default:
		return func() tea.Msg { return toggledMsg{err: ctl.Start(ctx)} }
	}
}

func (m *MeterModel) refresh() {
	m.status = m.ctl.Status()
	a := m.ctl.Analyser()
	m.live = a != nil
	if m.live {
		a.Snapshot(&m.snap)
	}
}

// View renders the meter.
func (m MeterModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("  ")
	sb.WriteString(statusStyles[m.status].Render(m.status.String()))
	sb.WriteString("\n\n")

	if m.live {
		labelW := 8
		barW := max(m.width-labelW-8, 8)
		fmt.Fprintf(&sb, "%-*s %s %5.1f\n", labelW, "level", bar(m.snap.Average/255, barW), m.snap.Average)
		fmt.Fprintf(&sb, "%-*s %.0f Hz  rms %.3f\n\n", labelW, "peak", m.snap.PeakHz, m.snap.RMS)
		for i, band := range analysis.Bands {
			fmt.Fprintf(&sb, "%-*s %s\n", labelW, band.Name, bar(m.snap.Bands[i], barW))
		}
		sb.WriteString("\n")
		sb.WriteString(barStyle.Render(sparkline(m.snap.Spectrum, m.width)))
		sb.WriteString("\n")
	} else {
		sb.WriteString(dimStyle.Render("microphone off"))
		sb.WriteString("\n")
	}

	if m.err != nil {
		sb.WriteString("\n")
		sb.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("%s: %s • %s: %s",
		meterKeyMap.Toggle.Help().Key, meterKeyMap.Toggle.Help().Desc,
		meterKeyMap.Quit.Help().Key, meterKeyMap.Quit.Help().Desc)))
	return sb.String()
}

// bar renders a level in [0,1] as a fixed-width bar.
func bar(level float64, width int) string {
	level = min(max(level, 0), 1)
	filled := int(level*float64(width) + 0.5)
	return barStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}

// sparkline folds a spectrum into width columns, each the maximum of its
// bins.
func sparkline(spectrum []byte, width int) string {
	if len(spectrum) == 0 || width <= 0 {
		return ""
	}
	width = min(width, len(spectrum))
	out := make([]rune, width)
	for col := range out {
		lo := col * len(spectrum) / width
		hi := (col + 1) * len(spectrum) / width
		var peak byte
		for _, v := range spectrum[lo:hi] {
			peak = max(peak, v)
		}
		out[col] = sparkRunes[int(peak)*(len(sparkRunes)-1)/255]
	}
	return string(out)
}

// RunMeter runs the meter until the user quits.
func RunMeter(ctx context.Context, ctl Controller, title string) error {
	p := tea.NewProgram(NewMeterModel(ctx, ctl, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
