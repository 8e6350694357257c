// Package elog is the ambient structured-logging facade shared by the
// VHD engine and the backend server. It wraps github.com/cirruslabs/echelon
// the way the teacher's pkg/elog does. Output is rendered by echelon's
// simple renderer on standard error; it does not pass through
// github.com/sirupsen/logrus, whose formatter and level cmd/vhdctl sets
// separately.
package elog

import (
	"os"

	"github.com/cirruslabs/echelon"
	"github.com/cirruslabs/echelon/renderers"
)

type LogLevel uint32

const (
	ErrorLevel LogLevel = LogLevel(echelon.ErrorLevel)
	WarnLevel  LogLevel = LogLevel(echelon.WarnLevel)
	InfoLevel  LogLevel = LogLevel(echelon.InfoLevel)
	DebugLevel LogLevel = LogLevel(echelon.DebugLevel)
	TraceLevel LogLevel = LogLevel(echelon.TraceLevel)
)

// Logger is the logging surface consumed by pkg/vhd and pkg/backend.
// Neither package depends on echelon or logrus directly, only on this
// interface, so tests can substitute a no-op implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Finish(success bool)
	Infof(format string, args ...interface{})
	IsLogLevelEnabled(level LogLevel) bool
	Logf(level LogLevel, format string, args ...interface{})
	Scoped(scope string) Logger
	Tracef(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// EchelonLogger adapts an *echelon.Logger to the Logger interface.
type EchelonLogger struct {
	*echelon.Logger
	finished bool
}

// New returns a root EchelonLogger with the given scope name.
func New(scope string) *EchelonLogger {
	return &EchelonLogger{Logger: echelon.NewLogger(echelon.InfoLevel, renderers.NewSimpleRenderer(os.Stderr, nil)).Scoped(scope)}
}

func (l *EchelonLogger) IsLogLevelEnabled(level LogLevel) bool {
	return l.Logger.IsLogLevelEnabled(echelon.LogLevel(level))
}

func (l *EchelonLogger) Logf(level LogLevel, format string, args ...interface{}) {
	l.Logger.Logf(echelon.LogLevel(level), format, args...)
}

func (l *EchelonLogger) Scoped(scope string) Logger {
	return &EchelonLogger{Logger: l.Logger.Scoped(scope)}
}

func (l *EchelonLogger) Finish(success bool) {
	if l.finished {
		return
	}
	l.finished = true
	l.Logger.Finish(success)
}

// Nop is a Logger that discards everything, used by tests and by
// callers that don't want scoped progress output.
type Nop struct{}

func (Nop) Debugf(string, ...interface{})         {}
func (Nop) Errorf(string, ...interface{})         {}
func (Nop) Finish(bool)                           {}
func (Nop) Infof(string, ...interface{})          {}
func (Nop) IsLogLevelEnabled(LogLevel) bool       { return false }
func (Nop) Logf(LogLevel, string, ...interface{}) {}
func (Nop) Scoped(string) Logger                  { return Nop{} }
func (Nop) Tracef(string, ...interface{})         {}
func (Nop) Warnf(string, ...interface{})          {}
