// internal/device/control.go
package device

import "github.com/qret-proptestbench/teststand/internal/wire"

// ControlKind is the actuator type behind a named control.
type ControlKind string

const (
	ControlValve ControlKind = "valve"
	ControlRelay ControlKind = "relay"
)

// Control is a named actuator; its position in Device.Controls is the
// wire control_id.
type Control struct {
	Name           string
	Kind           ControlKind
	Pin            int
	DefaultState   wire.ControlState
	LastKnownState wire.ControlState
}

// PendingControl is a CONTROL write awaiting ACK/NACK correlation.
type PendingControl struct {
	Name  string
	State wire.ControlState
}
