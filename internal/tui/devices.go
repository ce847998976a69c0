// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"micscope/internal/device"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

// DeviceListModel lists capture devices and lets the user pick one.
type DeviceListModel struct {
	lister        device.Lister
	devices       []device.Info
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error

	chosen *device.Info
}

type devicesMsg struct {
	devices []device.Info
}

type errMsg struct {
	err error
}

// NewDeviceListModel returns a model listing the devices of l.
func NewDeviceListModel(l device.Lister) DeviceListModel {
	return DeviceListModel{lister: l}
}

// Init fetches the device list.
func (m DeviceListModel) Init() tea.Cmd {
	l := m.lister
	return func() tea.Msg {
		devices, err := l.Devices()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// inputs keeps devices that can capture.
func inputs(all []device.Info) []device.Info {
	var out []device.Info
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Update handles input and updates the model
func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.renderDevices())

	case devicesMsg:
		m.devices = inputs(msg.devices)
		for i, d := range m.devices {
			if d.Default {
				m.selectedIndex = i
			}
		}
		m.viewport.SetContent(m.renderDevices())

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"))):
			return m, tea.Quit

		case key.Matches(msg, key.NewBinding(key.WithKeys("up", "k"))):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("down", "j"))):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.renderDevices())
			}

		case key.Matches(msg, key.NewBinding(key.WithKeys("enter"))):
			if len(m.devices) > 0 {
				d := m.devices[m.selectedIndex]
				m.chosen = &d
				return m, tea.Quit
			}
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// Chosen returns the device picked with Enter.
func (m DeviceListModel) Chosen() (device.Info, bool) {
	if m.chosen == nil {
		return device.Info{}, false
	}
	return *m.chosen, true
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	title := titleStyle.Render("Capture Devices")
	help := infoStyle.Render("↑/↓: Navigate • Enter: Select • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No capture devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		deviceInfo := fmt.Sprintf("%s[%d] %s (%s)\n", marker, d.ID, d.Name, d.Type())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			d.MaxInputChannels, d.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", d.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}
		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}

// PickDevice runs the device list and returns the chosen device. ok is false
// when the user quit without choosing.
func PickDevice(l device.Lister) (d device.Info, ok bool, err error) {
	final, err := tea.NewProgram(NewDeviceListModel(l), tea.WithAltScreen()).Run()
	if err != nil {
		return device.Info{}, false, err
	}
	d, ok = final.(DeviceListModel).Chosen()
	return d, ok, nil
}
