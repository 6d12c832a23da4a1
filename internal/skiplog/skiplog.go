// Package skiplog appends one line per abandoned unit of work (a page that
// exhausted its retry budget) so an operator can re-run specific gaps later.
package skiplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry describes one skipped page.
type Entry struct {
	URL         string
	WindowStart string
	WindowEnd   string
	Page        int
	PageSize    int
	Status      int
	Attempts    int
}

// Log is an append-only, concurrency-safe skip log file.
type Log struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// Open creates (or appends to) the skip log at path, creating parent
// directories as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create skip log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open skip log: %w", err)
	}
	return &Log{file: f, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Record appends one entry. Failures are returned so callers can log them,
// but a skip-log write error never aborts ingestion.
func (l *Log) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s\t%s\t%s\t%s\tpage=%d\tsize=%d\tstatus=%d\tattempts=%d\n",
		l.now().Format(time.RFC3339),
		e.URL,
		e.WindowStart,
		e.WindowEnd,
		e.Page,
		e.PageSize,
		e.Status,
		e.Attempts,
	)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("append skip log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close skip log: %w", err)
	}
	return nil
}
