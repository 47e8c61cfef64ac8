// Package discovery periodically announces the ground server's
// presence on the local network, generalized from the teacher's
// subnet-scanning DiscoverServers into the protocol's own DISCOVERY
// packet broadcast over UDP multicast (spec.md §4.3). Devices, not the
// server, initiate the TCP handshake — this emitter only advertises.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/qret-proptestbench/teststand/internal/logging"
	"github.com/qret-proptestbench/teststand/internal/wire"
)

// Interval is how often the emitter sends a DISCOVERY packet.
const Interval = 5 * time.Second

// multicastTTL keeps the announcement within the local network; devices
// are expected to be on the same segment or one hop away.
const multicastTTL = 2

// Emitter periodically sends a header-only DISCOVERY packet to a
// multicast group. It is fire-and-forget: no unicast reply is read or
// expected (spec.md §4.3 says devices dial the server's TCP port
// directly once they see the announcement).
type Emitter struct {
	conn  *net.UDPConn
	dst   *net.UDPAddr
	log   *logging.Facade
	start time.Time
	seq   uint8
}

// NewEmitter resolves addr (e.g. "239.255.255.250:1900") and opens a
// multicast-capable UDP socket to send from.
func NewEmitter(addr string, log *logging.Facade, start time.Time) (*Emitter, error) {
	dst, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	_ = pc.SetMulticastTTL(multicastTTL)
	_ = pc.SetMulticastLoopback(true)

	return &Emitter{conn: conn, dst: dst, log: log, start: start}, nil
}

// Run sends a DISCOVERY packet every Interval until ctx is canceled.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	defer e.conn.Close()

	e.announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.announce()
		}
	}
}

func (e *Emitter) announce() {
	e.seq++
	pkt := &wire.Packet{Header: wire.Header{
		Version:   wire.ProtocolVersion,
		Type:      wire.TypeDISCOVERY,
		Sequence:  e.seq,
		Timestamp: uint32(time.Since(e.start).Milliseconds()),
	}}

	buf, err := wire.Encode(pkt)
	if err != nil {
		e.log.Publish(logging.Errlog, "discovery encode failed", logrus.Fields{"error": err.Error()})
		return
	}

	if _, err := e.conn.WriteToUDP(buf, e.dst); err != nil {
		e.log.Publish(logging.Errlog, "discovery send failed", logrus.Fields{"error": err.Error()})
		return
	}
	e.log.Publish(logging.Debuglog, "discovery announced", logrus.Fields{"dst": e.dst.String()})
}

// Close releases the emitter's socket; Run's own defer does this too,
// so Close is only needed by a caller that never calls Run.
func (e *Emitter) Close() error { return e.conn.Close() }
