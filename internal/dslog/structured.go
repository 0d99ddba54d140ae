package dslog

import (
	"encoding/json"
	"io"
	"os"
)

// entry is the JSON shape written by jsonLogger, mirroring the teacher's
// StructuredLogger LogEntry.
type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// jsonLogger writes one JSON object per line. Used when a deployment wants
// machine-parseable logs instead of the plain-text textLogger lines.
type jsonLogger struct {
	level  Level
	writer io.Writer
	fields map[string]interface{}
	stamp  func() string
}

// NewJSON creates a JSON-line logger at the given level, writing to stdout.
func NewJSON(level Level) Logger {
	return &jsonLogger{level: level, writer: os.Stdout, fields: nil, stamp: timestamp}
}

// NewJSONWithWriter creates a JSON-line logger writing to an arbitrary sink.
func NewJSONWithWriter(level Level, w io.Writer) Logger {
	return &jsonLogger{level: level, writer: w, fields: nil, stamp: timestamp}
}

func (l *jsonLogger) clone() *jsonLogger {
	fields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &jsonLogger{level: l.level, writer: l.writer, fields: fields, stamp: l.stamp}
}

func (l *jsonLogger) WithField(key string, value interface{}) Logger {
	n := l.clone()
	n.fields[key] = value
	return n
}

func (l *jsonLogger) WithFields(fields map[string]interface{}) Logger {
	n := l.clone()
	for k, v := range fields {
		n.fields[k] = v
	}
	return n
}

func (l *jsonLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *jsonLogger) Debug(msg string) { l.log(DebugLevel, msg, nil) }
func (l *jsonLogger) Info(msg string)  { l.log(InfoLevel, msg, nil) }
func (l *jsonLogger) Warn(msg string)  { l.log(WarnLevel, msg, nil) }
func (l *jsonLogger) Error(msg string, err error) {
	l.log(ErrorLevel, msg, err)
}
func (l *jsonLogger) Fatal(msg string, err error) {
	l.log(FatalLevel, msg, err)
	os.Exit(1)
}

func (l *jsonLogger) log(level Level, msg string, err error) {
	if level < l.level {
		return
	}
	e := entry{
		Timestamp: l.stamp(),
		Level:     level.String(),
		Message:   msg,
		Fields:    l.fields,
	}
	if err != nil {
		e.Error = err.Error()
	}
	b, marshalErr := json.Marshal(e)
	if marshalErr != nil {
		// Fall back to a minimal line rather than drop the log entirely.
		_, _ = io.WriteString(l.writer, "{\"level\":\"error\",\"message\":\"dslog: marshal failure\"}\n")
		return
	}
	b = append(b, '\n')
	_, _ = l.writer.Write(b)
}
