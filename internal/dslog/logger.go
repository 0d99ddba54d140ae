package dslog

import (
	"fmt"
	"io"
	"os"
)

// Logger is the logging interface threaded through every component
// constructor (core.Scheduler, reactor.Reactor, gateway.Server, ...).
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
	Fatal(msg string, err error)
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

// textLogger writes "timestamp [LEVEL] msg key=value ..." lines, matching
// the teacher's BasicLogger output shape.
type textLogger struct {
	level  Level
	writer io.Writer
	fields map[string]interface{}
	stamp  func() string
}

// New creates a plain-text logger at the given level, writing to stdout.
func New(level Level) Logger {
	return &textLogger{level: level, writer: os.Stdout, fields: nil, stamp: timestamp}
}

// NewWithWriter creates a plain-text logger writing to an arbitrary sink,
// primarily useful for tests that capture output.
func NewWithWriter(level Level, w io.Writer) Logger {
	return &textLogger{level: level, writer: w, fields: nil, stamp: timestamp}
}

func (l *textLogger) clone() *textLogger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &textLogger{level: l.level, writer: l.writer, fields: fields, stamp: l.stamp}
}

func (l *textLogger) WithField(key string, value interface{}) Logger {
	n := l.clone()
	n.fields[key] = value
	return n
}

func (l *textLogger) WithFields(fields map[string]interface{}) Logger {
	n := l.clone()
	for k, v := range fields {
		n.fields[k] = v
	}
	return n
}

func (l *textLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *textLogger) Debug(msg string) { l.log(DebugLevel, msg, nil) }
func (l *textLogger) Info(msg string)  { l.log(InfoLevel, msg, nil) }
func (l *textLogger) Warn(msg string)  { l.log(WarnLevel, msg, nil) }
func (l *textLogger) Error(msg string, err error) {
	l.log(ErrorLevel, msg, err)
}
func (l *textLogger) Fatal(msg string, err error) {
	l.log(FatalLevel, msg, err)
	os.Exit(1)
}

func (l *textLogger) log(level Level, msg string, err error) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s [%s] %s", l.stamp(), level.String(), msg)
	if err != nil {
		line += fmt.Sprintf(" error=%s", err.Error())
	}
	for k, v := range l.fields {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	_, _ = fmt.Fprintln(l.writer, line)
}
