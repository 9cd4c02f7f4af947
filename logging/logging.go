// Package logging configures logrus for the rfm binaries and provides the
// field helpers shared by every package.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Format names accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup configures the standard logrus logger. An empty level means "info"
// and an empty format means text; a nil out means stderr.
func Setup(level, format string, out io.Writer) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter logrus.Formatter
	switch strings.ToLower(format) {
	case "", FormatText:
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	case FormatJSON:
		formatter = &logrus.JSONFormatter{}
	default:
		return fmt.Errorf("invalid log format %q (want %s or %s)", format, FormatText, FormatJSON)
	}

	if out == nil {
		out = os.Stderr
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(formatter)
	logrus.SetOutput(out)
	return nil
}

// LoggerHelper carries a standard set of fields for one package and
// function.
type LoggerHelper struct {
	function string
	pkg      string
	fields   logrus.Fields
}

// NewLogger creates a logger helper with standardized fields.
func NewLogger(pkg, function string) *LoggerHelper {
	return &LoggerHelper{
		function: function,
		pkg:      pkg,
		fields: logrus.Fields{
			"function": function,
			"package":  pkg,
		},
	}
}

// WithField adds a custom field to the logger
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds multiple custom fields to the logger
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError adds error information to the logger
func (l *LoggerHelper) WithError(err error, operation string) *LoggerHelper {
	if err != nil {
		l.fields["error"] = err.Error()
	}
	l.fields["operation"] = operation
	return l
}

// Fields returns a copy of the accumulated fields.
func (l *LoggerHelper) Fields() logrus.Fields {
	out := make(logrus.Fields, len(l.fields))
	for k, v := range l.fields {
		out[k] = v
	}
	return out
}

// Debug logs a debug message
func (l *LoggerHelper) Debug(message string) {
	logrus.WithFields(l.fields).Debug(message)
}

// Info logs an info message
func (l *LoggerHelper) Info(message string) {
	logrus.WithFields(l.fields).Info(message)
}

// Warn logs a warning message
func (l *LoggerHelper) Warn(message string) {
	logrus.WithFields(l.fields).Warn(message)
}

// Error logs an error message
func (l *LoggerHelper) Error(message string) {
	logrus.WithFields(l.fields).Error(message)
}

// SecureFieldHash previews a secret for logging: its first four bytes in
// hex and its length. Tokens and key material are never logged in full.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		previewLen := 4
		if len(data) < previewLen {
			previewLen = len(data)
		}
		preview = fmt.Sprintf("%x", data[:previewLen])
		if len(data) > previewLen {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}

// OperationFields creates standardized operation logging fields
func OperationFields(operation, status string, additional ...logrus.Fields) logrus.Fields {
	fields := logrus.Fields{
		"operation": operation,
		"status":    status,
	}
	for _, extra := range additional {
		for k, v := range extra {
			fields[k] = v
		}
	}
	return fields
}
