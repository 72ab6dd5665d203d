// Package source defines the inbound boundary for current-match records.
//
// The real browser scraper is an external collaborator; the pipeline only
// requires an ordered sequence of match records for one run's scope. The
// file-backed implementations here consume captured scrape output (JSON or
// CSV exports) so runs can be driven and replayed locally.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"

	"matchsync/internal/match"
)

// Source produces the current-match records for one run.
type Source interface {
	Fetch(ctx context.Context) ([]match.Record, error)
}

// FromFile picks a file-backed source by extension (.json or .csv).
func FromFile(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSONFile{Path: path}, nil
	case ".csv":
		return CSVFile{Path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported match file %s: want .json or .csv", path)
	}
}

// JSONFile reads a JSON array of match records.
type JSONFile struct {
	Path string
}

// Fetch implements Source.
func (s JSONFile) Fetch(ctx context.Context) ([]match.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read match file %s: %w", s.Path, err)
	}
	var records []match.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse match file %s: %w", s.Path, err)
	}
	return records, nil
}

// CSVFile reads match records from a headered CSV export.
// Empty cells decode to nil for optional fields, preserving the
// absent-vs-zero distinction the comparator depends on.
type CSVFile struct {
	Path string
}

// Fetch implements Source.
func (s CSVFile) Fetch(ctx context.Context) ([]match.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read match file %s: %w", s.Path, err)
	}
	var records []match.Record
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse match file %s: %w", s.Path, err)
	}
	return records, nil
}

// Static returns a Source yielding a fixed record slice. For tests and
// programmatic callers that already hold scraped records.
func Static(records []match.Record) Source {
	return staticSource(records)
}

type staticSource []match.Record

func (s staticSource) Fetch(ctx context.Context) ([]match.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
