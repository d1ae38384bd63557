// Package log wraps logrus into the per-context structured logging handle
// described by spec.md §9: "variadic message formatting is replaced by a
// structured event record (level, timestamp, fields)". There is no package
// level logger; every Sender/Receiver context, and every Peer and Flow it
// owns, holds its own *Logger with fields layered on via WithFields.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Perspective distinguishes sender-side from receiver-side log lines, the
// same role cooldogedev/spectral's internal/log.Perspective plays.
type Perspective byte

const (
	PerspectiveSender Perspective = iota
	PerspectiveReceiver
)

func (p Perspective) String() string {
	if p == PerspectiveReceiver {
		return "receiver"
	}
	return "sender"
}

// Logger is the capability record handed to every component that needs to
// emit an event record. A nil *Logger is never passed around; New always
// returns a usable value, defaulting to a discard writer.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root logger for one context. A nil base defaults to a
// logrus.Logger that discards output, so a Config with no Logger installed
// produces no hidden global chatter.
func New(base *logrus.Logger, perspective Perspective) *Logger {
	if base == nil {
		base = logrus.New()
		base.SetOutput(io.Discard)
	}
	return &Logger{entry: base.WithField("perspective", perspective.String())}
}

// With returns a child logger carrying additional structured fields, used
// to scope a logger to one peer or one flow without mutating the parent.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// Debug records a per-packet or per-event detail that is never surfaced to
// the application (spec.md §7: MalformedPacket/DecryptFailed/LateDrop are
// "counted and logged at debug").
func (l *Logger) Debug(event string, fields map[string]any) {
	l.entry.WithFields(fields).Debug(event)
}

// Info records a state transition or other noteworthy, non-error event.
func (l *Logger) Info(event string, fields map[string]any) {
	l.entry.WithFields(fields).Info(event)
}

// Warn records a recoverable anomaly such as a FlowReset.
func (l *Logger) Warn(event string, fields map[string]any) {
	l.entry.WithFields(fields).Warn(event)
}

// Error records a failure that aborted an operation.
func (l *Logger) Error(event string, fields map[string]any) {
	l.entry.WithFields(fields).Error(event)
}
