package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qret-proptestbench/teststand/internal/device"
)

func TestDevicesTickPopulatesList(t *testing.T) {
	snaps := []device.Snapshot{
		{Address: "10.0.0.5:1", Name: "PM1", Type: "Sensor Monitor", SyncFresh: true},
		{Address: "10.0.0.6:1", Name: "PM2", Type: "Sensor Monitor", SyncFresh: false, PendingControl: 2},
	}
	m := NewModel(func() []device.Snapshot { return snaps })

	updated, _ := m.Update(devicesTickMsg{})
	mm := updated.(Model)

	require.Len(t, mm.Devices.Items(), 2)
	item := mm.Devices.Items()[1].(deviceItem)
	assert.Equal(t, "PM2", item.snap.Name)
	assert.Equal(t, 2, item.snap.PendingControl)
}

func TestKeyQuitsProgram(t *testing.T) {
	m := NewModel(func() []device.Snapshot { return nil })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestDeviceItemDescriptionIncludesPendingCount(t *testing.T) {
	item := deviceItem{snap: device.Snapshot{
		Address: "10.0.0.5:1", Type: "Sensor Monitor", SensorCount: 3, SampleCount: 40, PendingControl: 1,
	}}
	desc := item.Description()
	assert.Contains(t, desc, "10.0.0.5:1")
	assert.Contains(t, desc, "3 sensors")
	assert.Contains(t, desc, "1 pending")
}
