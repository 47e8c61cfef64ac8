// internal/device/sensor.go
package device

import "github.com/qret-proptestbench/teststand/internal/wire"

// SensorKind names the physical transducer behind a sensor slot.
type SensorKind string

const (
	KindThermocouple       SensorKind = "thermocouple"
	KindPressureTransducer SensorKind = "pressure-transducer"
	KindLoadCell           SensorKind = "load-cell"
	KindCurrent            SensorKind = "current"
	KindResistance         SensorKind = "resistance"
)

// Sensor is one append-only, ordered channel of (time-index, value)
// samples. Position in Device.Sensors is the wire sensor_id.
type Sensor struct {
	Name string
	Kind SensorKind
	Unit wire.Unit
	Data []float64 // parallel to the device's shared Times slice
}

func (s *Sensor) append(v float64) {
	s.Data = append(s.Data, v)
}
