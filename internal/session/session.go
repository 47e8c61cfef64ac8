// Package session runs the per-device read loop and heartbeat side-task
// once the acceptor hands off a freshly-registered device (spec.md
// §4.5). It is the only code, besides the acceptor's handshake, that
// writes TIMESYNC packets, and the only code that tears a device down
// on an unrecoverable read/decode/write failure.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/qret-proptestbench/teststand/internal/device"
	"github.com/qret-proptestbench/teststand/internal/diag"
	"github.com/qret-proptestbench/teststand/internal/logging"
	"github.com/qret-proptestbench/teststand/internal/metrics"
	"github.com/qret-proptestbench/teststand/internal/registry"
	"github.com/qret-proptestbench/teststand/internal/wire"
)

// ResyncTTL is the maximum age of a device's last acked TIMESYNC before
// the session re-syncs it (spec.md §4.5 step 3).
const ResyncTTL = 600 * time.Second

// HeartbeatInterval is how often the side-task sends HEARTBEAT.
const HeartbeatInterval = 5 * time.Second

// readBufSize is the chunk size handed to Framer.Feed per socket read.
const readBufSize = 4096

// DiagInterval is how often the session best-effort-samples TCP_INFO
// for the device's socket (C11). A sample failure (including
// diag.ErrUnsupported on non-Linux builds) is swallowed — diagnostics
// must never affect the session.
const DiagInterval = 30 * time.Second

// Session drives one device's lifetime on the wire.
type Session struct {
	ID       xid.ID
	Device   *device.Device
	Registry *registry.Registry
	Log      *logging.Facade

	ttl time.Duration
}

// New builds a Session for d. id is the correlation id the acceptor
// minted (C13); it is attached to every log line this session emits.
func New(id xid.ID, d *device.Device, reg *registry.Registry, log *logging.Facade) *Session {
	return &Session{ID: id, Device: d, Registry: reg, Log: log, ttl: ResyncTTL}
}

// Run executes the read loop until EOF, a fatal decode error, or ctx
// cancellation, tearing the device down exactly once on the way out.
// It installs Device.CancelSession so the command API's write-failure
// path can trigger the same teardown.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.Device.CancelSession = cancel
	defer cancel()

	go s.heartbeatLoop(ctx)
	go s.diagLoop(ctx)

	s.logLifecycle("session started")

	err := s.readLoop(ctx)
	s.teardown(err)
}

func (s *Session) readLoop(ctx context.Context) error {
	var framer wire.Framer
	buf := make([]byte, readBufSize)

	// A blocked Read does not observe ctx; closing the socket on
	// cancellation unblocks it.
	go func() {
		<-ctx.Done()
		s.Device.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.Device.Conn().Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for {
				pkt, ok, derr := framer.Next()
				if derr != nil {
					s.Log.Publish(logging.Errlog, "fatal decode error", logrus.Fields{
						"device": s.Device.Address, "session": s.ID.String(), "error": derr.Error(),
					})
					return derr
				}
				if !ok {
					break
				}
				s.dispatch(pkt)
				s.maybeResync()
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (s *Session) dispatch(pkt *wire.Packet) {
	metrics.ObservePacketReceived(pkt.Header.Type)

	switch pkt.Header.Type {
	case wire.TypeDATA:
		s.handleData(pkt)

	case wire.TypeSTATUS:
		s.Log.Publish(logging.Log, "status report", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(), "status": pkt.Status,
		})

	case wire.TypeACK:
		s.handleAck(pkt)

	case wire.TypeNACK:
		s.handleNack(pkt)

	case wire.TypeHEARTBEAT:
		_, _ = s.Device.Send(&wire.Packet{
			Header:    wire.Header{Type: wire.TypeACK},
			AckedType: wire.TypeHEARTBEAT,
			AckedSeq:  pkt.Header.Sequence,
		}, time.Now())

	case wire.TypeCONFIG:
		s.Log.Publish(logging.Errlog, "CONFIG resent on live session, ignored", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(),
		})

	default:
		_, _ = s.Device.Send(&wire.Packet{
			Header:    wire.Header{Type: wire.TypeNACK},
			AckedType: pkt.Header.Type,
			AckedSeq:  pkt.Header.Sequence,
			ErrorCode: wire.ErrUnknownType,
		}, time.Now())
	}
}

func (s *Session) handleData(pkt *wire.Packet) {
	now := time.Now()
	var t float64
	if s.Device.SyncEverAcked() {
		t = float64(pkt.Header.Timestamp) / 1000
	} else {
		t = now.Sub(s.Device.StartTime).Seconds()
		s.Log.Publish(logging.Errlog, "DATA received before first sync, using server clock", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(),
		})
	}

	invalid := s.Device.ApplyDataPacket(pkt.Readings, t)
	for _, id := range invalid {
		s.Log.Publish(logging.Errlog, "DATA referenced unknown sensor_id", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(), "sensor_id": id,
		})
	}
	for _, r := range pkt.Readings {
		s.Log.Publish(logging.Log, "sample", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(), "t": t, "sensor_id": r.SensorID, "value": r.Value,
		})
	}
}

func (s *Session) handleAck(pkt *wire.Packet) {
	switch pkt.AckedType {
	case wire.TypeTIMESYNC:
		s.Device.RecordSync(time.Now())
		s.Log.Publish(logging.Syslog, "TIMESYNC acked", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(),
		})
	case wire.TypeCONTROL:
		if pc, ok := s.Device.ResolvePendingControl(pkt.AckedSeq); ok {
			idx, _ := s.Device.ControlID(pc.Name)
			s.Device.SetControlState(idx, pc.State)
			s.Log.Publish(logging.Log, "control acked", logrus.Fields{
				"device": s.Device.Address, "session": s.ID.String(), "control": pc.Name, "state": pc.State,
			})
		} else {
			s.Log.Publish(logging.Syslog, "ack received for untracked control", logrus.Fields{
				"device": s.Device.Address, "session": s.ID.String(), "seq": pkt.AckedSeq,
			})
		}
	default:
		s.Log.Publish(logging.Syslog, "ack received", logrus.Fields{
			"device": s.Device.Address, "session": s.ID.String(), "acked_type": pkt.AckedType,
		})
	}
}

func (s *Session) handleNack(pkt *wire.Packet) {
	metrics.ObserveNack(pkt.ErrorCode)
	s.Log.Publish(logging.Errlog, "nack received", logrus.Fields{
		"device": s.Device.Address, "session": s.ID.String(),
		"acked_type": pkt.AckedType, "error_code": pkt.ErrorCode,
	})
	if pkt.AckedType == wire.TypeCONTROL {
		s.Device.ResolvePendingControl(pkt.AckedSeq)
	}
}

// maybeResync issues a TIMESYNC if the device's last sync is stale and
// one isn't already outstanding (spec.md §4.5 step 3).
func (s *Session) maybeResync() {
	if s.Device.ResyncPending() {
		return
	}
	if s.Device.IsSyncFresh(time.Now(), s.ttl) {
		return
	}
	if _, err := s.Device.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeTIMESYNC}}, time.Now()); err != nil {
		return
	}
	s.Device.SetResyncPending(true)
	metrics.ObserveResync()
	s.Log.Publish(logging.Debuglog, "resync TIMESYNC sent", logrus.Fields{
		"device": s.Device.Address, "session": s.ID.String(),
	})
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Device.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeHEARTBEAT}}, time.Now()); err != nil {
				// Broken-pipe/reset here is suppressed per spec.md §4.5: the
				// read side will observe EOF and tear down.
				return
			}
		}
	}
}

func (s *Session) diagLoop(ctx context.Context) {
	ticker := time.NewTicker(DiagInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := diag.SampleConn(s.Device.Conn())
			if err != nil {
				continue
			}
			s.Log.Publish(logging.Debuglog, "tcp health", logrus.Fields{
				"device": s.Device.Address, "session": s.ID.String(),
				"state": sample.State, "rtt": sample.RTT, "retransmits": sample.Retransmits,
			})
		}
	}
}

func (s *Session) teardown(cause error) {
	s.Device.Close()
	s.Registry.Remove(s.Device.Address)
	s.Device.DrainPendingControls()
	metrics.ObserveDeviceConnected(-1)
	metrics.SetPendingControls(0)

	level := logging.Syslog
	fields := logrus.Fields{"device": s.Device.Address, "session": s.ID.String()}
	if cause != nil && !errors.Is(cause, context.Canceled) {
		// Any disconnect not caused by our own shutdown — including a
		// clean EOF from the device hanging up — is unexpected from the
		// ground station's side and belongs on errlog (spec.md §7).
		level = logging.Errlog
		fields["cause"] = cause.Error()
	}
	s.Log.Publish(level, "session ended", fields)
}

func (s *Session) logLifecycle(msg string) {
	s.Log.Publish(logging.Syslog, msg, logrus.Fields{
		"device": s.Device.Address, "session": s.ID.String(),
	})
}
