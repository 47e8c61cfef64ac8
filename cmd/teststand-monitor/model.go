// Command teststand-monitor is a read-only operator dashboard: a list
// of currently registered devices with their sync freshness and
// pending-control counts, plus a host CPU/mem strip. It polls device
// snapshots through a SnapshotSource rather than issuing any command
// itself (spec.md §1 keeps the HTTP/command surface
// out of this repo's scope). Grounded on the teacher's
// internal/cli/ui Bubble Tea model and its gopsutil resource strip.
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"github.com/qret-proptestbench/teststand/internal/device"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	freshStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	pendStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
	listStyle   = lipgloss.NewStyle().Margin(1, 2)
)

// SnapshotSource supplies the current list of device snapshots. In
// production this reads the snapshot file the server writes; the model
// depends only on the function so tests can stub it.
type SnapshotSource func() []device.Snapshot

type deviceItem struct {
	snap device.Snapshot
}

func (i deviceItem) Title() string {
	sync := staleStyle.Render("stale")
	if i.snap.SyncFresh {
		sync = freshStyle.Render("fresh")
	}
	return fmt.Sprintf("%-20s %s", i.snap.Name, sync)
}

func (i deviceItem) Description() string {
	pend := ""
	if i.snap.PendingControl > 0 {
		pend = pendStyle.Render(fmt.Sprintf(" | %d pending", i.snap.PendingControl))
	}
	return fmt.Sprintf("%s | %s | %d sensors | %d samples%s",
		i.snap.Address, i.snap.Type, i.snap.SensorCount, i.snap.SampleCount, pend)
}

func (i deviceItem) FilterValue() string { return i.snap.Name }

type resourceTickMsg time.Time
type devicesTickMsg time.Time

// Model is the dashboard's Bubble Tea model.
type Model struct {
	Source   SnapshotSource
	Devices  list.Model
	Resource string
	width    int
	height   int
}

// NewModel builds a dashboard model that polls source for device
// snapshots.
func NewModel(source SnapshotSource) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Test-Stand Devices"
	l.SetShowHelp(false)
	return Model{Source: source, Devices: l}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tea.ClearScreen, pollResource(), pollDevices())
}

func pollResource() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return resourceTickMsg(t) })
}

func pollDevices() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return devicesTickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.Devices.SetSize(msg.Width-4, msg.Height-8)

	case resourceTickMsg:
		pct, _ := psutil.Percent(0, false)
		mem, _ := psmem.VirtualMemory()
		cpuPct := 0.0
		if len(pct) > 0 {
			cpuPct = pct[0]
		}
		m.Resource = fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%%", cpuPct, mem.UsedPercent)
		return m, pollResource()

	case devicesTickMsg:
		snaps := m.Source()
		items := make([]list.Item, len(snaps))
		for i, s := range snaps {
			items[i] = deviceItem{snap: s}
		}
		m.Devices.SetItems(items)
		return m, pollDevices()
	}

	var cmd tea.Cmd
	m.Devices, cmd = m.Devices.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	header := headerStyle.Render(" teststand-monitor ")
	footer := footerStyle.Render(m.Resource + " | q to quit")
	return header + "\n" + listStyle.Render(m.Devices.View()) + "\n" + footer
}
