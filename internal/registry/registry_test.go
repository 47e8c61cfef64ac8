// internal/registry/registry_test.go
package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qret-proptestbench/teststand/internal/device"
)

func newTestDevice(t *testing.T, addr string) *device.Device {
	t.Helper()
	raw := []byte(`{"deviceName":"` + addr + `","deviceType":"Sensor Monitor"}`)
	cfg, err := device.ParseConfig(raw)
	require.NoError(t, err)
	_, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	return device.New(addr, server, cfg, raw, time.Now())
}

func TestInsertExclusion(t *testing.T) {
	r := New()
	d1 := newTestDevice(t, "10.0.0.1:1")
	d2 := newTestDevice(t, "10.0.0.1:1")

	assert.True(t, r.Insert("10.0.0.1:1", d1))
	assert.False(t, r.Insert("10.0.0.1:1", d2), "duplicate address must be refused")

	_, ok := r.Remove("10.0.0.1:1")
	require.True(t, ok)
	assert.True(t, r.Insert("10.0.0.1:1", d2), "address is free again once removed")
}

func TestLookupAndRemove(t *testing.T) {
	r := New()
	d := newTestDevice(t, "10.0.0.2:1")
	r.Insert("10.0.0.2:1", d)

	got, ok := r.Lookup("10.0.0.2:1")
	require.True(t, ok)
	assert.Same(t, d, got)

	_, ok = r.Lookup("nope")
	assert.False(t, ok)

	removed, ok := r.Remove("10.0.0.2:1")
	require.True(t, ok)
	assert.Same(t, d, removed)

	_, ok = r.Lookup("10.0.0.2:1")
	assert.False(t, ok)
}

func TestSnapshotIsInsertionOrderedAndDecoupled(t *testing.T) {
	r := New()
	addrs := []string{"a:1", "b:1", "c:1"}
	for _, a := range addrs {
		r.Insert(a, newTestDevice(t, a))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	for i, d := range snap {
		assert.Equal(t, addrs[i], d.Address)
	}

	r.Remove("b:1")
	// The earlier snapshot is unaffected by a later mutation.
	assert.Len(t, snap, 3)
	assert.Len(t, r.Snapshot(), 2)
}

func TestConcurrentInsertSingleWinner(t *testing.T) {
	r := New()
	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i] = r.Insert("race:1", newTestDevice(t, "race:1"))
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent insert should win the address")
	assert.Equal(t, 1, r.Len())
}
