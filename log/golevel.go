package log

import (
	"fmt"
	"strings"
)

// LogLevel is the ordered verbosity scale used by the chainable GoLogger.
// Unlike Level, higher numeric values mean more verbose: a logger set to
// InfoLevel emits fatal, error, warn, and info entries but not debug.
// Value 0 is reserved (historically panic) and disables everything.
type LogLevel uint8

const (
	// FatalLevel logs and then exits the process.
	FatalLevel LogLevel = iota + 1
	// ErrorLevel logs failures that abort an operation.
	ErrorLevel
	// WarnLevel logs recoverable anomalies.
	WarnLevel
	// InfoLevel logs normal operational events.
	InfoLevel
	// DebugLevel logs everything.
	DebugLevel
)

// String returns the lowercase name of the level.
func (level LogLevel) String() string {
	switch level {
	case FatalLevel:
		return "fatal"
	case ErrorLevel:
		return "error"
	case WarnLevel:
		return "warn"
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLogLevel converts a level name to a LogLevel.
func ParseLogLevel(lvl string) (LogLevel, error) {
	switch strings.ToLower(lvl) {
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}

	var level LogLevel

	return level, fmt.Errorf("not a valid LogLevel: %q", lvl)
}

// ChainLogger is the print-style logging surface implemented by GoLogger and
// NoneLogger. It predates the structured Logger interface and remains for
// callers that want drop-in stdlib-log semantics.
type ChainLogger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Fatalln(args ...any)

	WithFields(fields ...any) ChainLogger
	WithDefaultMessageTemplate(message string) ChainLogger

	Sync() error
}
