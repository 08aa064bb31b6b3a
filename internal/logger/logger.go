// Package logger defines the structured logging interface shared by every
// broker component, mirroring the way franz-go's kgo.Client threads a single
// Logger through cfg.logger.
package logger

import (
	"github.com/sirupsen/logrus"
)

// LogLevel mirrors kgo's LogLevel: a small closed set of severities that
// callers pass to Log rather than calling per-level methods.
type LogLevel int8

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// Logger is the logging seam every broker component depends on. keyvals is
// an alternating key/value list, same convention as kgo.Logger.
type Logger interface {
	Log(level LogLevel, msg string, keyvals ...interface{})
	Level() LogLevel
}

// nop satisfies Logger by doing nothing; used when no logger is configured.
type nop struct{}

func (nop) Log(LogLevel, string, ...interface{}) {}
func (nop) Level() LogLevel                      { return LogLevelNone }

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

// logrusLogger backs Logger with github.com/sirupsen/logrus, turning the
// alternating keyvals into logrus.Fields and mapping LogLevel to logrus's
// own level so callers get leveled, structured output for free.
type logrusLogger struct {
	lvl LogLevel
	l   *logrus.Logger
}

// New returns a Logger that writes structured entries through logrus,
// filtering anything above the given level.
func New(lvl LogLevel) Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{lvl: lvl, l: l}
}

func (g *logrusLogger) Level() LogLevel { return g.lvl }

func (g *logrusLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	if level > g.lvl {
		return
	}
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyvals[i+1]
	}
	entry := g.l.WithFields(fields)
	switch level {
	case LogLevelError:
		entry.Error(msg)
	case LogLevelWarn:
		entry.Warn(msg)
	case LogLevelInfo:
		entry.Info(msg)
	case LogLevelDebug:
		entry.Debug(msg)
	}
}
