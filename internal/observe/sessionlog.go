package observe

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// SessionLog is a per-session JSONL event log. Every line is one structured
// record: decisions, speak commits, phase transitions, viewer swings. The
// file outlives the process and is the durable trail for post-session
// analysis alongside the metrics export.
type SessionLog struct {
	*slog.Logger
	file io.Closer
	path string
}

// NewSessionLog opens (or creates) dir/livehost_<sessionID>.jsonl and returns
// a logger writing one JSON record per line, annotated with the session ID.
func NewSessionLog(dir, sessionID string) (*SessionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("observe: create log dir: %w", err)
	}
	path := filepath.Join(dir, "livehost_"+sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("observe: open session log: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With(slog.String("session_id", sessionID))

	return &SessionLog{Logger: logger, file: f, path: path}, nil
}

// Path returns the log file location.
func (s *SessionLog) Path() string { return s.path }

// Close flushes and closes the underlying file.
func (s *SessionLog) Close() error {
	return s.file.Close()
}
