// Package history persists conversation turns to an append-only plain-text
// log, one turn per write.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger appends conversation turns to a text file. Entries are only ever
// appended; prior entries are never rewritten.
type Logger struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

// Open creates the log file (and its parent directory) if needed and opens
// it for appending.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history log: %w", err)
	}
	return &Logger{f: f, now: time.Now}, nil
}

// Append writes one conversation turn: the user's utterance and what the
// assistant actually spoke back.
func (l *Logger) Append(user, assistant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().Format(time.RFC3339)
	_, err := fmt.Fprintf(l.f, "[%s] USER: %s\n[%s] ASSISTANT: %s\n\n", ts, user, ts, assistant)
	if err != nil {
		return fmt.Errorf("append history turn: %w", err)
	}
	return l.f.Sync()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
