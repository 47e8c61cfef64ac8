// internal/logging/logging.go
// Package logging is the thin publish facade the session and command API
// emit through. It never blocks the caller and never panics: a missing or
// misconfigured backend must not fault a session.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Channel names the four human-readable event streams spec.md §4.7
// contracts: connection lifecycle and commands on Sys, per-sample
// telemetry and acked controls on Log, NACKs/decode failures/disconnects
// on Err, and multicast/resync bookkeeping on Debug.
type Channel string

const (
	Log      Channel = "log"
	Syslog   Channel = "syslog"
	Errlog   Channel = "errlog"
	Debuglog Channel = "debuglog"
)

// Facade publishes (channel, message) pairs to four independent logrus
// loggers, so that each channel can be routed, leveled, or silenced
// independently by whatever sink the deployment wires in.
type Facade struct {
	mu      sync.RWMutex
	loggers map[Channel]*logrus.Logger
}

// New builds a Facade with all four channels writing to out at Info
// level, using logrus's text formatter. A nil out silences every channel
// while keeping the facade safe to call.
func New(out io.Writer) *Facade {
	f := &Facade{loggers: make(map[Channel]*logrus.Logger, 4)}
	for _, ch := range []Channel{Log, Syslog, Errlog, Debuglog} {
		l := logrus.New()
		if out == nil {
			l.SetOutput(io.Discard)
		} else {
			l.SetOutput(out)
		}
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		f.loggers[ch] = l
	}
	return f
}

// Publish emits msg on the named channel with the given structured
// fields. An unknown channel, or a facade with no backing loggers, is a
// silent no-op by design (see package doc).
func (f *Facade) Publish(ch Channel, msg string, fields logrus.Fields) {
	if f == nil {
		return
	}
	f.mu.RLock()
	l, ok := f.loggers[ch]
	f.mu.RUnlock()
	if !ok || l == nil {
		return
	}
	entry := l.WithFields(fields)
	switch ch {
	case Errlog:
		entry.Error(msg)
	case Debuglog:
		entry.Debug(msg)
	default:
		entry.Info(msg)
	}
}

// SetLevel raises or lowers the minimum level for every channel at once.
func (f *Facade) SetLevel(level logrus.Level) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.loggers {
		l.SetLevel(level)
	}
}
