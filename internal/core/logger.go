package core

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// NewLogger builds the root logger. format is "json" (default) or "text";
// level is any logrus level name.
func NewLogger(out io.Writer, level, format string) (*logrus.Logger, error) {
	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetReportCaller(true)

	switch strings.ToLower(format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  logTimestampFormat,
			CallerPrettyfier: shortCaller,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  logTimestampFormat,
			CallerPrettyfier: shortCaller,
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	return logger, nil
}

// ComponentLogger returns the root logger tagged with a component name.
func ComponentLogger(root *logrus.Logger, component string) *logrus.Entry {
	return root.WithField("component", component)
}

// DiscardLogger returns a logger that writes nowhere, for tests and tools.
func DiscardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// LogStateTransition records a status machine change at debug level.
func LogStateTransition(logger *logrus.Entry, machine, from, to string) {
	logger.WithFields(logrus.Fields{
		"machine":    machine,
		"from_state": from,
		"to_state":   to,
	}).Debug("state transition")
}

// shortCaller trims the function to its last path element and the file to
// its base name.
func shortCaller(frame *runtime.Frame) (function string, file string) {
	function = frame.Function
	if idx := strings.LastIndex(function, "/"); idx != -1 {
		function = function[idx+1:]
	}
	return function, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
