// Package acceptor runs the TCP listener devices dial into after seeing
// a DISCOVERY announcement. It owns only the handshake (spec.md §4.4):
// reading the device's first CONFIG packet, registering the device, and
// handing the live connection off to a session. The accept-loop /
// per-connection-goroutine shape follows the teacher's
// pkg/hashing/jitter.Server, generalized from a fixed-size binary frame
// to the length-prefixed wire protocol.
package acceptor

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/qret-proptestbench/teststand/internal/device"
	"github.com/qret-proptestbench/teststand/internal/logging"
	"github.com/qret-proptestbench/teststand/internal/metrics"
	"github.com/qret-proptestbench/teststand/internal/registry"
	"github.com/qret-proptestbench/teststand/internal/wire"
)

// HandshakeTimeout bounds how long a connection is given to present and
// complete its CONFIG handshake before the acceptor gives up on it.
const HandshakeTimeout = 5 * time.Second

// SessionStarter is invoked once a device clears the handshake; it is
// given the sessionID for cross-channel log correlation (C13) and
// starts the session loop; it is called on the connection's own
// handshake goroutine, so it may run the loop inline or spawn it.
type SessionStarter func(sessionID xid.ID, d *device.Device)

// Acceptor owns the listening socket and the registry devices land in.
type Acceptor struct {
	Registry *registry.Registry
	Log      *logging.Facade
	Start    func(sessionID xid.ID, d *device.Device)

	listener net.Listener
}

// Listen binds addr and begins accepting in a background goroutine.
func Listen(addr string, reg *registry.Registry, log *logging.Facade, start SessionStarter) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("acceptor: listen %s: %w", addr, err)
	}
	a := &Acceptor{Registry: reg, Log: log, Start: start, listener: ln}
	go a.acceptLoop()
	return a, nil
}

// Close stops accepting new connections. Sessions already handed off
// are unaffected.
func (a *Acceptor) Close() error { return a.listener.Close() }

func (a *Acceptor) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return // listener closed; nothing more to accept
		}
		go a.handshake(conn)
	}
}

// handshake implements spec.md §4.4 steps 1-9. Any failure closes conn
// and returns without registering a device.
func (a *Acceptor) handshake(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(HandshakeTimeout))

	pkt, err := readPacket(conn)
	if err != nil {
		a.Log.Publish(logging.Errlog, "handshake read failed", logrus.Fields{
			"remote": conn.RemoteAddr().String(), "error": err.Error(),
		})
		conn.Close()
		return
	}

	if pkt.Header.Type != wire.TypeCONFIG {
		sendNack(conn, pkt.Header.Type, pkt.Header.Sequence, wire.ErrUnknownType)
		conn.Close()
		return
	}

	cfg, err := device.ParseConfig(pkt.ConfigJSON)
	if err != nil {
		a.Log.Publish(logging.Errlog, "handshake config invalid", logrus.Fields{
			"remote": conn.RemoteAddr().String(), "error": err.Error(),
		})
		sendNack(conn, wire.TypeCONFIG, pkt.Header.Sequence, wire.ErrInvalidParam)
		conn.Close()
		return
	}

	addr := conn.RemoteAddr().String()
	now := time.Now()
	d := device.New(addr, conn, cfg, pkt.ConfigJSON, now)

	if !a.Registry.Insert(addr, d) {
		sendNack(conn, wire.TypeCONFIG, pkt.Header.Sequence, wire.ErrBusy)
		conn.Close()
		return
	}

	if _, err := d.Send(&wire.Packet{
		Header:    wire.Header{Type: wire.TypeACK},
		AckedType: wire.TypeCONFIG,
		AckedSeq:  pkt.Header.Sequence,
	}, now); err != nil {
		a.Registry.Remove(addr)
		conn.Close()
		return
	}

	if _, err := d.Send(&wire.Packet{Header: wire.Header{Type: wire.TypeTIMESYNC}}, now); err != nil {
		a.Registry.Remove(addr)
		conn.Close()
		return
	}

	// The handshake deadline only protects the handshake itself; the
	// session loop manages its own read/write timeouts (or lack thereof).
	_ = conn.SetDeadline(time.Time{})

	metrics.ObserveDeviceConnected(1)
	sessionID := xid.New()
	a.Log.Publish(logging.Syslog, "device registered", logrus.Fields{
		"device": addr, "name": cfg.Name, "type": string(cfg.Type), "session": sessionID.String(),
	})

	a.Start(sessionID, d)
}

// readPacket reads one complete wire packet from conn: the fixed
// 9-byte header, then exactly the payload length it declares.
func readPacket(conn net.Conn) (*wire.Packet, error) {
	header := make([]byte, wire.HeaderSize)
	if _, err := readFull(conn, header); err != nil {
		return nil, err
	}

	length, err := wire.PeekLength(header)
	if err != nil {
		return nil, err
	}
	if int(length) < wire.HeaderSize {
		return nil, fmt.Errorf("acceptor: declared length %d shorter than header", length)
	}

	buf := make([]byte, length)
	copy(buf, header)
	if _, err := readFull(conn, buf[wire.HeaderSize:]); err != nil {
		return nil, err
	}

	return wire.Decode(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendNack(conn net.Conn, ackedType wire.Type, ackedSeq uint8, code wire.ErrorCode) {
	buf, err := wire.Encode(&wire.Packet{
		Header:    wire.Header{Type: wire.TypeNACK},
		AckedType: ackedType,
		AckedSeq:  ackedSeq,
		ErrorCode: code,
	})
	if err != nil {
		return
	}
	_, _ = conn.Write(buf)
}
