// Package snapshot persists the last-known state of every tracked match
// for one scope as a single JSON file.
//
// The file is the system's record of "what is true now". It is replaced
// wholesale at the end of a completed run; a crash mid-save leaves either
// the old or the new file intact, never a corrupt mixture. The append-only
// audit trail, not this file, records how state got here.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"matchsync/internal/match"
)

// Snapshot is the full set of match records believed true as of the last
// completed run, keyed by external match id.
type Snapshot struct {
	LastRunID        string                  `json:"last_run_id"`
	LastRunTimestamp time.Time               `json:"last_run_timestamp"`
	Matches          map[string]match.Record `json:"matches"`
}

// Empty returns a snapshot with no prior matches and no run metadata.
func Empty() *Snapshot {
	return &Snapshot{Matches: map[string]match.Record{}}
}

// Store reads and writes the snapshot file for one scope.
type Store struct {
	path   string
	logger *slog.Logger

	// now is injected for tests; defaults to time.Now.
	now func() time.Time
}

// NewStore creates a store for the given scope key, creating dir if needed.
// Failure to create the directory is fatal: nothing downstream can proceed
// without somewhere to persist state.
func NewStore(dir, scopeKey string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   filepath.Join(dir, "state-"+scopeKey+".json"),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Path returns the snapshot file path. Useful for diagnostics.
func (s *Store) Path() string { return s.path }

// Load reads the persisted snapshot.
//
// An absent file is a normal first-run condition and an unparsable file is
// treated the same way: both return an empty snapshot and log at info level.
// Any other I/O error (e.g. permissions) is returned and is fatal to the run.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no previous snapshot, starting empty", "path", s.path)
			return Empty(), nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Info("previous snapshot unreadable, starting empty", "path", s.path, "error", err)
		return Empty(), nil
	}
	if snap.Matches == nil {
		snap.Matches = map[string]match.Record{}
	}
	return &snap, nil
}

// Save serializes the full new snapshot and publishes it atomically.
//
// The snapshot is written to a temporary file in the same directory, synced,
// then renamed over the previous file. Readers never observe a half-written
// snapshot.
func (s *Store) Save(runID string, matches map[string]match.Record) error {
	snap := Snapshot{
		LastRunID:        runID,
		LastRunTimestamp: s.now().UTC(),
		Matches:          matches,
	}
	if snap.Matches == nil {
		snap.Matches = map[string]match.Record{}
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()
	// Remove the temp file on any failure path; no-op after a successful rename.
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// SetClock overrides the timestamp source. For tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// ScopeKey derives a stable filesystem-safe key for a tracked scope.
// Empty components are skipped; an entirely empty scope maps to "default".
func ScopeKey(league, ageGroup, division string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{league, ageGroup, division} {
		if p == "" {
			continue
		}
		parts = append(parts, slug(p))
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "-")
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
