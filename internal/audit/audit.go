// Package audit implements the append-only JSONL audit/analytics sink
// (spec §6.6, §5): one file per day, a single mutex-protected writer per
// process, failures logged and swallowed so they never fail the triggering
// operation (spec §7).
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/logpose/terminal-gateway/internal/logger"
)

// Event is one audit record. Fields beyond the envelope are caller-defined.
type Event struct {
	Time   time.Time      `json:"time"`
	Action string         `json:"action"`
	User   string         `json:"user,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink is the single-instance, process-wide audit writer (spec §9).
type Sink struct {
	dir string

	mu      sync.Mutex
	day     string
	file    *os.File
	encoder *json.Encoder
}

func New(dir string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Sink{dir: dir}, nil
}

// Record appends event to today's log file, opening (or rotating to) a new
// file at day boundaries. Any I/O error is logged and swallowed.
func (s *Sink) Record(action, user string, fields map[string]any) {
	evt := Event{Time: time.Now(), Action: action, User: user, Fields: fields}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := evt.Time.Format("2006-01-02")
	if s.day != today {
		if s.file != nil {
			_ = s.file.Close()
		}
		path := filepath.Join(s.dir, today+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warnf("audit: failed to open %s: %v", path, err)
			s.file, s.encoder = nil, nil
			return
		}
		s.day = today
		s.file = f
		s.encoder = json.NewEncoder(f)
	}

	if s.encoder == nil {
		return
	}
	if err := s.encoder.Encode(evt); err != nil {
		logger.Warnf("audit: failed to write event: %v", err)
	}
}

// Close flushes and closes the underlying file, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
