package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditLogger appends one JSON line per server action to hourly files,
// rotating a file once it reaches maxSizeMB.
type AuditLogger struct {
	out    *logrus.Logger
	file   *hourlyFile
	logger *logrus.Entry
}

func NewAuditLogger(logDir string, maxSizeMB int64, logger *logrus.Entry) *AuditLogger {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logger.Warningf("Failed to create audit directory %s: %v", logDir, err)
	}

	file := &hourlyFile{dir: logDir, maxBytes: maxSizeMB * 1024 * 1024, logger: logger}

	out := logrus.New()
	out.SetOutput(file)
	out.SetLevel(logrus.InfoLevel)
	out.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "action",
		},
	})

	return &AuditLogger{out: out, file: file, logger: logger}
}

// Log records action with its fields. A non-nil actionErr marks the entry
// as failed.
func (a *AuditLogger) Log(action string, fields map[string]interface{}, actionErr error) error {
	entry := a.out.WithFields(logrus.Fields{
		"fields": fields,
		"ok":     actionErr == nil,
	})
	if actionErr != nil {
		entry.WithField("error", actionErr.Error()).Error(action)
	} else {
		entry.Info(action)
	}
	return a.file.takeErr()
}

func (a *AuditLogger) GetStats() map[string]interface{} {
	name, size := a.file.current()
	return map[string]interface{}{
		"current_file":    name,
		"current_size_mb": size / (1024 * 1024),
		"max_size_mb":     a.file.maxBytes / (1024 * 1024),
	}
}

func (a *AuditLogger) Close() error {
	return a.file.Close()
}

// hourlyFile is an io.Writer over actions_YYYYMMDD_HH.jsonl files. A file
// that reaches maxBytes is renamed aside and writing continues in a fresh
// one.
type hourlyFile struct {
	dir      string
	maxBytes int64
	logger   *logrus.Entry

	mu      sync.Mutex
	name    string
	f       *os.File
	size    int64
	lastErr error
}

func (h *hourlyFile) pathFor(t time.Time) string {
	return filepath.Join(h.dir, fmt.Sprintf("actions_%s.jsonl", t.Format("20060102_15")))
}

func (h *hourlyFile) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.openLocked(time.Now()); err != nil {
		h.lastErr = err
		return 0, err
	}

	n, err := h.f.Write(p)
	h.size += int64(n)
	if err != nil {
		h.lastErr = fmt.Errorf("failed to write audit entry: %w", err)
		return n, err
	}

	if h.size >= h.maxBytes {
		if err := h.rotateLocked(); err != nil {
			h.logger.Warningf("Audit rotation error: %v", err)
		}
	}
	return n, nil
}

// openLocked makes f the file for t's hour.
func (h *hourlyFile) openLocked(t time.Time) error {
	name := h.pathFor(t)
	if h.f != nil && h.name == name {
		return nil
	}
	h.closeLocked()

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	var size int64
	if stat, err := f.Stat(); err == nil {
		size = stat.Size()
	}
	h.name, h.f, h.size = name, f, size
	return nil
}

func (h *hourlyFile) rotateLocked() error {
	name := h.name
	h.closeLocked()

	rotated := fmt.Sprintf("%s.rotated_%s", name, time.Now().Format("20060102_150405.000"))
	if err := os.Rename(name, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	h.logger.Infof("Rotated audit log: %s -> %s", name, rotated)
	return nil
}

func (h *hourlyFile) closeLocked() {
	if h.f != nil {
		_ = h.f.Close()
	}
	h.f, h.name, h.size = nil, "", 0
}

func (h *hourlyFile) current() (string, int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return h.pathFor(time.Now()), 0
	}
	return h.name, h.size
}

// takeErr returns and clears the last write failure.
func (h *hourlyFile) takeErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.lastErr
	h.lastErr = nil
	return err
}

func (h *hourlyFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	return nil
}
