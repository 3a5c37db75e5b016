// Package mblog defines the logging interface shared by the components of
// the stack that log (client, transports, server, bridge). Components
// never reach for a package-global logger; one is always passed in at
// construction time.
package mblog

import (
	"fmt"
	"log"
	"os"
)

// Logger is the leveled logging interface every component depends on.
// A *log.Logger-backed default implementation is provided by New(); a
// silent implementation is provided by Nop() for tests and library users
// who don't want any output. Callers may also plug in their own (e.g. a
// zap.Logger adapter, see cmd/modbus-cli).
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warning(msg string)
	Warningf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
}

var _ Logger = (*stdLogger)(nil)

type stdLogger struct {
	prefix string
	debug  bool
	out    *log.Logger
}

// New returns a Logger that writes to os.Stderr through the standard
// library's log package, prefixed with the given component name.
// If debug is false, Debug/Debugf calls are silently discarded.
func New(prefix string, debug bool) Logger {
	return &stdLogger{
		prefix: prefix,
		debug:  debug,
		out:    log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *stdLogger) write(level, msg string) {
	l.out.Printf("%s [%s]: %s", l.prefix, level, msg)
}

func (l *stdLogger) Debug(msg string) {
	if l.debug {
		l.write("debug", msg)
	}
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.write("debug", fmt.Sprintf(format, args...))
	}
}

func (l *stdLogger) Info(msg string) { l.write("info", msg) }
func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.write("info", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Warning(msg string) { l.write("warn", msg) }
func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.write("warn", fmt.Sprintf(format, args...))
}

func (l *stdLogger) Error(msg string) { l.write("error", msg) }
func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.write("error", fmt.Sprintf(format, args...))
}

type nopLogger struct{}

func (nopLogger) Debug(string)                    {}
func (nopLogger) Debugf(string, ...interface{})   {}
func (nopLogger) Info(string)                     {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Warning(string)                  {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Error(string)                    {}
func (nopLogger) Errorf(string, ...interface{})   {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}
