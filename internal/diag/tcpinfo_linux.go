//go:build linux

// Package diag samples kernel-level TCP socket health for a device's
// connection, grounded on runZeroInc-sockstats/pkg/tcpinfo's
// getsockopt(TCP_INFO) approach. Unlike that package's full field set,
// Sample only carries connection state, round-trip time and variance,
// retransmit counts, congestion window, and send MSS; the session's
// diagnostic loop logs a subset of these to debuglog.
package diag

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrUnsupported is returned by SampleConn on platforms without a
// TCP_INFO equivalent wired up. Unreachable in this build but kept so
// callers can match on it platform-independently.
var ErrUnsupported = errors.New("diag: TCP_INFO sampling not supported on this platform")

// Sample is a point-in-time read of a connection's kernel TCP state.
type Sample struct {
	State          string
	RTT            time.Duration
	RTTVar         time.Duration
	Retransmits    uint32
	TotalRetrans   uint32
	SendCongWindow uint32
	SendMSS        uint32
}

var tcpStateNames = map[uint8]string{
	1: "ESTABLISHED", 2: "SYN_SENT", 3: "SYN_RECV", 4: "FIN_WAIT1",
	5: "FIN_WAIT2", 6: "TIME_WAIT", 7: "CLOSE", 8: "CLOSE_WAIT",
	9: "LAST_ACK", 10: "LISTEN", 11: "CLOSING",
}

// SampleConn reads TCP_INFO for conn via getsockopt. conn must be a
// *net.TCPConn (the acceptor never hands the session anything else).
func SampleConn(conn net.Conn) (Sample, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return Sample{}, fmt.Errorf("diag: %T is not a *net.TCPConn", conn)
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		return Sample{}, fmt.Errorf("diag: syscall conn: %w", err)
	}

	var info *unix.TCPInfo
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		return Sample{}, fmt.Errorf("diag: control: %w", err)
	}
	if sockErr != nil {
		return Sample{}, fmt.Errorf("diag: getsockopt TCP_INFO: %w", sockErr)
	}

	state, ok := tcpStateNames[info.State]
	if !ok {
		state = fmt.Sprintf("UNKNOWN(%d)", info.State)
	}

	return Sample{
		State:          state,
		RTT:            time.Duration(info.Rtt) * time.Microsecond,
		RTTVar:         time.Duration(info.Rttvar) * time.Microsecond,
		Retransmits:    uint32(info.Retransmits),
		TotalRetrans:   info.Total_retrans,
		SendCongWindow: info.Snd_cwnd,
		SendMSS:        info.Snd_mss,
	}, nil
}

// Supported reports whether TCP_INFO sampling is available on this
// platform. Always true in the linux build.
func Supported() bool { return true }
