package zipkintracer

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used by the tracer and its collectors.
// keyvals is an alternating list of keys and values.
type Logger interface {
	Log(keyvals ...interface{}) error
}

// LoggerFunc adapts an ordinary function to the Logger interface.
type LoggerFunc func(...interface{}) error

// Log implements Logger.
func (f LoggerFunc) Log(keyvals ...interface{}) error {
	return f(keyvals...)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return LoggerFunc(func(...interface{}) error { return nil })
}

type logrusLogger struct {
	l logrus.FieldLogger
}

// NewLogrusLogger returns a Logger writing to l. The "msg" key becomes the
// entry message, the "level" key selects the level, and the presence of an
// "err" key logs at error level.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return &logrusLogger{l: l}
}

func (ll *logrusLogger) Log(keyvals ...interface{}) error {
	var (
		msg    string
		level  = logrus.InfoLevel
		fields = logrus.Fields{}
	)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		var value interface{} = "(MISSING)"
		if i+1 < len(keyvals) {
			value = keyvals[i+1]
		}
		switch key {
		case "msg":
			msg = fmt.Sprint(value)
		case "level":
			if lvl, err := logrus.ParseLevel(fmt.Sprint(value)); err == nil {
				level = lvl
			}
		case "err":
			level = logrus.ErrorLevel
			fields[logrus.ErrorKey] = value
		default:
			fields[key] = value
		}
	}

	entry := ll.l.WithFields(fields)
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.DebugLevel, logrus.TraceLevel:
		entry.Debug(msg)
	default:
		entry.Info(msg)
	}
	return nil
}
