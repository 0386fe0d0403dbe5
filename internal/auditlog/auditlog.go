// Package auditlog writes an append-only, crash-safe JSON-lines record of
// RPC client connections and tool invocations: a single os.File, written
// under a mutex, one durable record per logical event.
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RecordType enumerates the audit record kinds.
type RecordType string

const (
	RecordConnect    RecordType = "connect"
	RecordDisconnect RecordType = "disconnect"
	RecordToolCall   RecordType = "tool_call"
)

// Record is one JSON-line audit entry.
type Record struct {
	Type         RecordType     `json:"type"`
	TimestampMs  int64          `json:"timestamp_ms"`
	ClientID     string         `json:"clientId"`
	Tool         string         `json:"tool,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	DurationMs   *int64         `json:"duration_ms,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Logger appends Records to a stable path, flushing before each Log call
// returns.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

const tempSuffix = ".tmp"

// Open creates (or appends to) the log file at path, first removing any
// stale sibling temp file left behind by a crashed prior instance.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("auditlog: ensure dir: %w", err)
		}
	}

	if stale, err := filepath.Glob(path + tempSuffix + "*"); err == nil {
		for _, f := range stale {
			_ = os.Remove(f)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log appends rec as one JSON line, flushing to disk before returning.
func (l *Logger) Log(rec Record) error {
	if rec.TimestampMs == 0 {
		rec.TimestampMs = time.Now().UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auditlog: marshal record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("auditlog: write: %w", err)
	}
	return l.file.Sync()
}

// LogConnect records a client connection.
func (l *Logger) LogConnect(clientID string) error {
	return l.Log(Record{Type: RecordConnect, ClientID: clientID})
}

// LogDisconnect records a client disconnection.
func (l *Logger) LogDisconnect(clientID string) error {
	return l.Log(Record{Type: RecordDisconnect, ClientID: clientID})
}

// LogToolCall records a completed tool invocation.
func (l *Logger) LogToolCall(clientID, tool string, args map[string]any, success bool, durationMs int64, errMsg string) error {
	d := durationMs
	s := success
	rec := Record{
		Type:       RecordToolCall,
		ClientID:   clientID,
		Tool:       tool,
		Args:       args,
		Success:    &s,
		DurationMs: &d,
	}
	if !success {
		rec.Error = strings.TrimSpace(errMsg)
	}
	return l.Log(rec)
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
