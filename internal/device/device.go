// internal/device/device.go
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qret-proptestbench/teststand/internal/wire"
)

// Type is the device's self-reported deviceType string, echoed verbatim
// except for the two recognized sensor-monitor spellings.
type Type string

const (
	TypeSensorMonitor          Type = "Sensor Monitor"
	TypeSimulatedSensorMonitor Type = "Simulated Sensor Monitor"
)

// Config is the parsed form of a device's CONFIG payload.
type Config struct {
	Name       string                  `json:"deviceName"`
	Type       Type                    `json:"deviceType"`
	SensorInfo sensorInfoJSON          `json:"sensorInfo"`
	Controls   orderedMap[controlJSON] `json:"controls"`
}

type sensorSpecJSON struct {
	ADCIndex int    `json:"ADCIndex"`
	HighPin  int    `json:"highPin"`
	LowPin   int    `json:"lowPin"`
	Type     string `json:"type"`
	Units    string `json:"units"`
}

type sensorInfoJSON struct {
	Thermocouples       orderedMap[sensorSpecJSON] `json:"thermocouples"`
	PressureTransducers orderedMap[sensorSpecJSON] `json:"pressureTransducers"`
	LoadCells           orderedMap[sensorSpecJSON] `json:"loadCells"`
	Current             orderedMap[sensorSpecJSON] `json:"current"`
	Resistance          orderedMap[sensorSpecJSON] `json:"resistance"`
}

type controlJSON struct {
	Pin          int    `json:"pin"`
	Type         string `json:"type"`
	DefaultState string `json:"defaultState"`
}

// orderedEntry is one name/spec pair out of a CONFIG sub-object, in the
// order it appeared on the wire.
type orderedEntry[V any] struct {
	Name string
	Spec V
}

// orderedMap decodes a JSON object into its entries in declaration
// order. encoding/json's native map[string]V decoding loses that order
// (Go map iteration is unspecified), but spec §3.2/§4.4 fix sensor_id
// and control_id to declaration order, so decoding straight into a map
// would silently renumber every sensor and control whose JSON wasn't
// already alphabetical.
type orderedMap[V any] []orderedEntry[V]

func (m *orderedMap[V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("device: expected a JSON object, got %v", tok)
	}

	var out orderedMap[V]
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("device: expected a string key, got %v", keyTok)
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, orderedEntry[V]{Name: key, Spec: v})
	}
	*m = out
	return nil
}

// ParseConfig validates and unmarshals a CONFIG packet's JSON body.
// deviceName and deviceType are the only fields spec.md requires; an
// absent or empty deviceName/deviceType is a configuration error.
func ParseConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("device: config json: %w", err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("device: config missing deviceName")
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("device: config missing deviceType")
	}
	return &cfg, nil
}

// unitFromConfigString maps the config's free-text unit spelling onto the wire enum,
// fail-closing to Unitless for anything unrecognized rather than
// rejecting an otherwise-valid sensor declaration.
func unitFromConfigString(s string) wire.Unit {
	switch s {
	case "C":
		return wire.UnitCelsius
	case "F":
		return wire.UnitFahren
	case "K":
		return wire.UnitKelvin
	case "PSI":
		return wire.UnitPSI
	case "bar":
		return wire.UnitBar
	case "Pa":
		return wire.UnitPascal
	case "V":
		return wire.UnitVolts
	case "A":
		return wire.UnitAmps
	case "g":
		return wire.UnitG
	case "kg":
		return wire.UnitKg
	case "lb":
		return wire.UnitLb
	case "N":
		return wire.UnitNewton
	case "ohm", "Ohm":
		return wire.UnitOhm
	default:
		return wire.UnitUnitless
	}
}

// Device is the in-memory description of one connected embedded node.
// Only the session task mutates it (registry invariant 3.3.2); the
// methods below are the narrow surfaces spec.md §4.2 carves out for the
// session (mutators) and the command API (readers).
type Device struct {
	Address string
	Name    string
	Type    Type
	Config  *Config
	RawJSON []byte

	Sensors  []Sensor
	Controls []Control

	conn net.Conn
	// sendMu serializes every write to conn: the session's reader loop,
	// the heartbeat side-task, and the command API may all want to write
	// concurrently (spec.md §5, shared-resource policy).
	sendMu sync.Mutex
	seq    uint8 // session-local outgoing sequence counter, guarded by sendMu

	mu sync.RWMutex

	StartTime time.Time // server monotonic reference at registration
	Times     []float64 // shared sample-time axis, seconds since StartTime

	lastSyncTime   time.Time
	syncEverAcked  bool
	resyncPending  bool

	pendingControls map[uint8]PendingControl

	// CancelSession tears down the owning session; set by whoever spawns
	// the session task, invoked by the command API on a fatal send error.
	CancelSession func()
}

// New builds a Device from a parsed Config, fixing sensor_id/control_id
// ordering the way the original firmware's config builder does: fixed
// sub-object order (thermocouples, pressureTransducers, loadCells,
// current, resistance), then declaration order within each sub-object,
// matching the Python original's dict-insertion-order iteration.
func New(addr string, conn net.Conn, cfg *Config, raw []byte, now time.Time) *Device {
	d := &Device{
		Address:         addr,
		Name:            cfg.Name,
		Type:            cfg.Type,
		Config:          cfg,
		RawJSON:         raw,
		conn:            conn,
		StartTime:       now,
		pendingControls: make(map[uint8]PendingControl),
	}

	if cfg.Type == TypeSensorMonitor || cfg.Type == TypeSimulatedSensorMonitor {
		d.Sensors = buildSensors(cfg.SensorInfo)
	}
	d.Controls = buildControls(cfg.Controls)

	return d
}

func buildSensors(info sensorInfoJSON) []Sensor {
	var out []Sensor
	groups := []struct {
		kind SensorKind
		m    orderedMap[sensorSpecJSON]
	}{
		{KindThermocouple, info.Thermocouples},
		{KindPressureTransducer, info.PressureTransducers},
		{KindLoadCell, info.LoadCells},
		{KindCurrent, info.Current},
		{KindResistance, info.Resistance},
	}
	for _, g := range groups {
		for _, entry := range g.m {
			out = append(out, Sensor{
				Name: entry.Name,
				Kind: g.kind,
				Unit: unitFromConfigString(entry.Spec.Units),
			})
		}
	}
	return out
}

func buildControls(m orderedMap[controlJSON]) []Control {
	var out []Control
	for _, entry := range m {
		spec := entry.Spec
		state := wire.ControlClosed
		if spec.DefaultState == "OPEN" {
			state = wire.ControlOpen
		}
		out = append(out, Control{
			Name:           entry.Name,
			Kind:           ControlKind(spec.Type),
			Pin:            spec.Pin,
			DefaultState:   state,
			LastKnownState: state,
		})
	}
	return out
}
