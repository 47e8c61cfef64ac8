// internal/device/api.go
package device

import (
	"fmt"
	"net"
	"time"

	"github.com/qret-proptestbench/teststand/internal/wire"
)

// Send assigns the next outgoing sequence number, stamps the header with
// version/timestamp, encodes, and writes pkt to the device's socket. It
// is the sole write path (spec.md invariant 2): the session loop, the
// heartbeat side-task, and every command API function all call this
// instead of touching the connection directly.
func (d *Device) Send(pkt *wire.Packet, now time.Time) (uint8, error) {
	return d.SendReserving(pkt, now, nil)
}

// SendReserving is Send plus a callback run with the assigned sequence
// number after it is known but before the bytes reach the socket. It
// exists for invariant 7: a pending-control entry must be recorded
// before the write that could race an ACK, and the sequence number that
// keys that entry isn't known until a send is already underway.
func (d *Device) SendReserving(pkt *wire.Packet, now time.Time, beforeWrite func(seq uint8)) (uint8, error) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.seq++
	pkt.Header.Version = wire.ProtocolVersion
	pkt.Header.Sequence = d.seq
	pkt.Header.Timestamp = uint32(now.Sub(d.StartTime).Milliseconds())

	buf, err := wire.Encode(pkt)
	if err != nil {
		return 0, fmt.Errorf("device: encode %s: %w", pkt.Header.Type, err)
	}

	if beforeWrite != nil {
		beforeWrite(pkt.Header.Sequence)
	}

	if _, err := d.conn.Write(buf); err != nil {
		return pkt.Header.Sequence, fmt.Errorf("device: write %s: %w", pkt.Header.Type, err)
	}
	return pkt.Header.Sequence, nil
}

// Conn exposes the raw connection for the session's read loop and for
// diagnostics (C11). By convention only the owning session reads from
// it and only Send writes to it (spec.md invariant 2) — Device cannot
// enforce that across package boundaries, only document it.
func (d *Device) Conn() net.Conn { return d.conn }

// Close closes the underlying socket. It does not guard against repeat
// calls; a second call returns the connection's own close error.
func (d *Device) Close() error { return d.conn.Close() }

// ApplyDataPacket applies one DATA packet's full batch of readings at a
// single shared time-axis point t. Exactly one entry is appended to
// Times regardless of how many readings the packet carried (invariant 3
// is about packets, not readings — a packet may legitimately batch fewer
// than all sensors). Readings naming an out-of-range sensor_id are
// skipped and returned in invalidIDs for the caller to log; per spec.md
// §4.5 an invalid sensor_id is never NACKed. Sensors the packet did not
// mention are backfilled with their last known value so every sensor's
// data stays exactly len(Times) long.
func (d *Device) ApplyDataPacket(readings []wire.Reading, t float64) (invalidIDs []uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Times = append(d.Times, t)
	seen := make([]bool, len(d.Sensors))

	for _, r := range readings {
		if int(r.SensorID) >= len(d.Sensors) {
			invalidIDs = append(invalidIDs, r.SensorID)
			continue
		}
		d.Sensors[r.SensorID].append(float64(r.Value))
		seen[r.SensorID] = true
	}

	for i := range d.Sensors {
		if seen[i] {
			continue
		}
		last := 0.0
		if n := len(d.Sensors[i].Data); n > 0 {
			last = d.Sensors[i].Data[n-1]
		}
		d.Sensors[i].append(last)
	}

	return invalidIDs
}

// RecordSync marks the device synced as of serverNow and clears
// resync-pending.
func (d *Device) RecordSync(serverNow time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSyncTime = serverNow
	d.syncEverAcked = true
	d.resyncPending = false
}

// IsSyncFresh reports whether the device has ever been synced and, if
// so, whether that sync is younger than ttl as of now.
func (d *Device) IsSyncFresh(now time.Time, ttl time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.syncEverAcked {
		return false
	}
	return now.Sub(d.lastSyncTime) < ttl
}

// SyncEverAcked reports whether any TIMESYNC has ever been acked —
// before the first ack, DATA timestamps are not trustworthy (invariant 6).
func (d *Device) SyncEverAcked() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.syncEverAcked
}

// SetResyncPending flips the resync-pending flag.
func (d *Device) SetResyncPending(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resyncPending = v
}

// ResyncPending reports the current resync-pending flag.
func (d *Device) ResyncPending() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resyncPending
}

// SetPendingControl records an outstanding CONTROL write. Callers must
// invoke this BEFORE writing the packet (invariant 7: close the ack
// race) — Device.Send does not do this automatically because the
// command API needs to choose the (name,state) pair before it knows
// whether the write will even succeed.
func (d *Device) SetPendingControl(seq uint8, name string, state wire.ControlState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingControls[seq] = PendingControl{Name: name, State: state}
}

// ResolvePendingControl removes and returns the pending control entry for
// seq, if any. Called on ACK, NACK, or session teardown.
func (d *Device) ResolvePendingControl(seq uint8) (PendingControl, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pc, ok := d.pendingControls[seq]
	if ok {
		delete(d.pendingControls, seq)
	}
	return pc, ok
}

// PendingControlCount reports the number of outstanding control acks.
func (d *Device) PendingControlCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pendingControls)
}

// DrainPendingControls clears every outstanding control entry, logging
// none of them (the session's teardown path logs the drain count itself
// if it cares to).
func (d *Device) DrainPendingControls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingControls = make(map[uint8]PendingControl)
}

// ControlID returns the wire control_id for a named control, or false if
// no such control exists on this device.
func (d *Device) ControlID(name string) (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i, c := range d.Controls {
		if c.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// SetControlState records the last-known state of the control at idx,
// called once its ACK resolves; a NACK leaves the last-known state as is.
func (d *Device) SetControlState(idx uint8, state wire.ControlState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(idx) < len(d.Controls) {
		d.Controls[idx].LastKnownState = state
	}
}

// SensorCount returns the number of sensor slots this device declared.
func (d *Device) SensorCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.Sensors)
}

// Snapshot is a copy-out view of a device for external consumers (the
// HTTP surface, the CSV exporter, the monitor TUI) that must never hold
// a reference into live, session-owned state.
type Snapshot struct {
	Address        string
	Name           string
	Type           Type
	SensorCount    int
	ControlCount   int
	SyncFresh      bool
	ResyncPending  bool
	PendingControl int
	SampleCount    int
}

// Snapshot copies out the primitive fields safe to hand to a reader that
// is not the owning session.
func (d *Device) Snapshot(now time.Time, ttl time.Duration) Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		Address:        d.Address,
		Name:           d.Name,
		Type:           d.Type,
		SensorCount:    len(d.Sensors),
		ControlCount:   len(d.Controls),
		SyncFresh:      d.syncEverAcked && now.Sub(d.lastSyncTime) < ttl,
		ResyncPending:  d.resyncPending,
		PendingControl: len(d.pendingControls),
		SampleCount:    len(d.Times),
	}
}
