package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName returns the audit file name for a given UTC calendar date.
// Exported so read-only consumers (reporting) can locate files without
// this package ever reading them back.
func FileName(date time.Time) string {
	return fmt.Sprintf("match-audit-%s.jsonl", date.UTC().Format("2006-01-02"))
}

// Writer appends events to date-partitioned JSONL files.
//
// Each event lands in the file for its own UTC creation date, so a run that
// spans midnight writes to two files. Appends from concurrent goroutines in
// the same process are serialized by a mutex so lines are never interleaved
// or truncated; cross-process writers are out of scope.
//
// The writer never rewrites or deletes existing lines and never reads the
// log back.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates a writer rooted at dir, creating it if needed.
// Failure to create the directory is fatal.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the audit log directory.
func (w *Writer) Dir() string { return w.dir }

// Append serializes the event to one JSON line and appends it to the file
// for the event's UTC creation date. Any failure (disk full, permissions)
// is returned to the caller; the orchestrator decides whether that is fatal.
func (w *Writer) Append(e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, FileName(e.Timestamp))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event to %s: %w", path, err)
	}
	return nil
}
