// internal/registry/registry.go
// Package registry is the single process-wide map from device address to
// live Device. It is the only shared-mutable structure in the core
// (spec.md §5) — every other subsystem reaches a device through it.
package registry

import (
	"sync"

	"github.com/qret-proptestbench/teststand/internal/device"
)

// Registry guards a map[address]*device.Device behind a mutex. Iteration
// returns a snapshot slice so long-running callers never hold the lock.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*device.Device
	// order preserves insertion order for deterministic snapshot/log
	// iteration (spec.md §4.2: "stable (insertion order)").
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[string]*device.Device)}
}

// Insert adds d under addr. ok is false if addr is already occupied by a
// live device (invariant 1: a single Device per address).
func (r *Registry) Insert(addr string, d *device.Device) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[addr]; exists {
		return false
	}
	r.devices[addr] = d
	r.order = append(r.order, addr)
	return true
}

// Lookup returns the device at addr, if any.
func (r *Registry) Lookup(addr string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[addr]
	return d, ok
}

// Remove deletes and returns the device at addr, if any.
func (r *Registry) Remove(addr string) (*device.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[addr]
	if !ok {
		return nil, false
	}
	delete(r.devices, addr)
	for i, a := range r.order {
		if a == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return d, true
}

// Snapshot returns every currently-registered device in insertion order.
// The slice is a fresh copy; holding it does not hold the registry lock.
func (r *Registry) Snapshot() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*device.Device, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.devices[addr])
	}
	return out
}

// Each applies fn to every device, in insertion order, without exposing
// the registry's internal map to the caller.
func (r *Registry) Each(fn func(addr string, d *device.Device)) {
	for _, d := range r.Snapshot() {
		fn(d.Address, d)
	}
}

// Len reports the number of currently-registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
