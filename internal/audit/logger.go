// Package audit writes one JSON line per handled turn to an append-only log.
// Audit failures are reported on a channel and never interrupt the pipeline.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is a single audit entry. One record is written per turn.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Agent     string         `json:"agent"`
	PatientID string         `json:"patient_id,omitempty"`
	Input     string         `json:"input"`
	Intent    string         `json:"intent,omitempty"`
	Risk      string         `json:"risk,omitempty"`
	Response  string         `json:"response"`
	Context   map[string]any `json:"context,omitempty"`
}

// Failure describes an audit write that did not succeed after a retry.
type Failure struct {
	Record Record
	Err    error
	At     time.Time
}

// Logger appends records to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	failures chan Failure
	logger   *slog.Logger
}

// Open creates or opens the audit log at path in append mode.
func Open(path string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &Logger{
		path:     path,
		file:     f,
		failures: make(chan Failure, 64),
		logger:   logger,
	}, nil
}

// Failures exposes audit write failures for out-of-band monitoring.
func (l *Logger) Failures() <-chan Failure {
	return l.failures
}

// Append writes one record as a single JSON line. A failed write is retried
// once; if the retry also fails the record goes to the failure channel and
// Append returns nil, keeping audit trouble out of the patient's response
// path.
func (l *Logger) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(r)
	if err != nil {
		l.reportFailure(r, fmt.Errorf("encoding audit record: %w", err))
		return nil
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(line); err != nil {
		l.logger.Warn("audit write failed, retrying", "error", err)
		if err := l.write(line); err != nil {
			l.reportFailure(r, err)
		}
	}
	return nil
}

// write attempts a full single-line write, reopening the file first if a
// previous attempt left it closed or broken.
func (l *Logger) write(line []byte) error {
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("reopening audit log: %w", err)
		}
		l.file = f
	}
	if _, err := l.file.Write(line); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

func (l *Logger) reportFailure(r Record, err error) {
	l.logger.Error("audit record lost", "error", err, "agent", r.Agent)
	select {
	case l.failures <- Failure{Record: r, Err: err, At: time.Now()}:
	default:
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
