// internal/command/command.go
// Package command is the API the rest of the server calls into to drive
// a resolved device (spec.md §4.6). Every function here completes when
// the packet has been written to the socket, not when it is acked.
package command

import (
	"fmt"
	"time"

	"github.com/qret-proptestbench/teststand/internal/device"
	"github.com/qret-proptestbench/teststand/internal/logging"
	"github.com/qret-proptestbench/teststand/internal/metrics"
	"github.com/qret-proptestbench/teststand/internal/registry"
	"github.com/qret-proptestbench/teststand/internal/wire"

	"github.com/sirupsen/logrus"
)

// ErrInvalidParam is returned when a command's own argument validation
// fails, before anything is written to the wire.
var ErrInvalidParam = fmt.Errorf("command: invalid parameter")

// API bundles the registry and log facade every command needs; callers
// obtain one at startup and pass resolved *device.Device values into its
// methods (lookup-by-address/name is the caller's job, per spec.md).
type API struct {
	Registry *registry.Registry
	Log      *logging.Facade
}

// onSendFailure implements the write-failure policy of spec.md §4.6:
// remove the device from the registry and cancel its session. A device
// whose socket is one-way broken must be re-announced via CONFIG.
func (a *API) onSendFailure(d *device.Device, err error) {
	a.Registry.Remove(d.Address)
	if d.CancelSession != nil {
		d.CancelSession()
	}
	a.Log.Publish(logging.Errlog, "command send failed, device removed", logrus.Fields{
		"device": d.Address, "error": err.Error(),
	})
}

// GetSingle requests one immediate reading.
func (a *API) GetSingle(d *device.Device) error {
	_, err := d.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeGETSINGLE}}, time.Now())
	if err != nil {
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeGETSINGLE)
	a.Log.Publish(logging.Syslog, "GET_SINGLE sent", logrus.Fields{"device": d.Address})
	return nil
}

// StartStream requests streaming at hz Hz; hz must be in [1, 65535].
func (a *API) StartStream(d *device.Device, hz uint16) error {
	if hz < 1 {
		return fmt.Errorf("%w: frequency must be >= 1 Hz", ErrInvalidParam)
	}
	_, err := d.Send(&wire.Packet{
		Header:      wire.Header{Type: wire.TypeSTREAMSTART},
		FrequencyHz: hz,
	}, time.Now())
	if err != nil {
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeSTREAMSTART)
	a.Log.Publish(logging.Syslog, "STREAM_START sent", logrus.Fields{"device": d.Address, "hz": hz})
	return nil
}

// StopStream requests the device stop streaming.
func (a *API) StopStream(d *device.Device) error {
	_, err := d.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeSTREAMSTOP}}, time.Now())
	if err != nil {
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeSTREAMSTOP)
	a.Log.Publish(logging.Syslog, "STREAM_STOP sent", logrus.Fields{"device": d.Address})
	return nil
}

// SetControl requests an actuator transition. name must name a control
// the device declared, and state must be wire.ControlOpen or
// wire.ControlClosed. The pending-control entry is recorded before the
// socket write (invariant 7) and removed again if the write itself
// fails.
func (a *API) SetControl(d *device.Device, name string, state wire.ControlState) error {
	if state != wire.ControlOpen && state != wire.ControlClosed {
		return fmt.Errorf("%w: control state must be open or closed", ErrInvalidParam)
	}
	idx, ok := d.ControlID(name)
	if !ok {
		return fmt.Errorf("%w: no such control %q", ErrInvalidParam, name)
	}

	pkt := &wire.Packet{
		Header:       wire.Header{Type: wire.TypeCONTROL},
		ControlID:    idx,
		ControlState: state,
	}

	// SetPendingControl runs inside SendReserving, after the sequence is
	// assigned but before the bytes hit the socket — this is invariant 7
	// (pending entry recorded before the write that could race an ack).
	seq, err := d.SendReserving(pkt, time.Now(), func(seq uint8) {
		d.SetPendingControl(seq, name, state)
	})
	if err != nil {
		d.ResolvePendingControl(seq)
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeCONTROL)
	a.Log.Publish(logging.Syslog, "CONTROL sent", logrus.Fields{
		"device": d.Address, "control": name, "state": state,
	})
	return nil
}

// GetStatus requests the device's current operating status.
func (a *API) GetStatus(d *device.Device) error {
	_, err := d.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeSTATUSREQUEST}}, time.Now())
	if err != nil {
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeSTATUSREQUEST)
	a.Log.Publish(logging.Syslog, "STATUS_REQUEST sent", logrus.Fields{"device": d.Address})
	return nil
}

// Estop sends an emergency stop. It bypasses no queue because there is
// none: Device.Send is the only write path and Estop uses it exactly
// like every other command, going through immediately ahead of nothing
// because nothing else is buffered in front of it.
func (a *API) Estop(d *device.Device) error {
	_, err := d.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeESTOP}}, time.Now())
	if err != nil {
		a.onSendFailure(d, err)
		return err
	}
	metrics.ObservePacketSent(wire.TypeESTOP)
	a.Log.Publish(logging.Syslog, "ESTOP sent", logrus.Fields{"device": d.Address})
	return nil
}
