// internal/metrics/metrics.go
// Package metrics exposes the core's operational counters on a private
// Prometheus registry, grounded on the exporter pattern in
// runZeroInc-sockstats/pkg/exporter. Callers never see the
// *prometheus.Registry itself, only these Observe* functions, the same
// way they never see the registry's internal map (internal/registry) or
// a device's socket.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qret-proptestbench/teststand/internal/wire"
)

var (
	reg = prometheus.NewRegistry()

	devicesConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teststand_devices_connected",
		Help: "Number of devices currently registered.",
	})
	packetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teststand_packets_total",
		Help: "Packets sent or received, by type and direction.",
	}, []string{"type", "direction"})
	nacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teststand_nacks_total",
		Help: "NACKs received, by error code.",
	}, []string{"error"})
	resyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "teststand_resyncs_total",
		Help: "TIMESYNC packets emitted after the TTL elapsed.",
	})
	pendingControls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teststand_pending_controls",
		Help: "Control writes currently awaiting ACK/NACK, summed across all devices.",
	})
)

func init() {
	reg.MustRegister(devicesConnected, packetsTotal, nacksTotal, resyncsTotal, pendingControls)
}

// ObserveDeviceConnected adjusts the connected-device gauge by delta
// (+1 on registry insert, -1 on teardown).
func ObserveDeviceConnected(delta float64) { devicesConnected.Add(delta) }

// ObservePacketSent counts one outgoing packet of type t.
func ObservePacketSent(t wire.Type) { packetsTotal.WithLabelValues(t.String(), "sent").Inc() }

// ObservePacketReceived counts one incoming packet of type t.
func ObservePacketReceived(t wire.Type) { packetsTotal.WithLabelValues(t.String(), "received").Inc() }

// ObserveNack counts one received NACK by its error code.
func ObserveNack(code wire.ErrorCode) {
	nacksTotal.WithLabelValues(errorCodeName(code)).Inc()
}

// ObserveResync counts one TTL-triggered TIMESYNC emission.
func ObserveResync() { resyncsTotal.Inc() }

// SetPendingControls sets the pending-control gauge to n. Its only caller
// is session teardown, which passes 0; no code path passes the live sum
// of pending controls across devices, so the gauge does not rise while
// control writes await their ACK/NACK.
func SetPendingControls(n int) { pendingControls.Set(float64(n)) }

// Handler returns the HTTP handler to mount on the metrics bind address.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func errorCodeName(c wire.ErrorCode) string {
	switch c {
	case wire.ErrNone:
		return "none"
	case wire.ErrUnknownType:
		return "unknown-type"
	case wire.ErrInvalidID:
		return "invalid-id"
	case wire.ErrHardwareFault:
		return "hardware-fault"
	case wire.ErrBusy:
		return "busy"
	case wire.ErrNotStreaming:
		return "not-streaming"
	case wire.ErrInvalidParam:
		return "invalid-param"
	default:
		return "unknown"
	}
}
