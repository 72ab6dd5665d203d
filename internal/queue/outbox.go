package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Outbox is a SQLite-backed Publisher that records every accepted submission
// durably. It serves local runs and dry environments where no real queue
// transport is wired, and doubles as a submission ledger.
//
// Idempotency: submitting the same correlation id with an identical payload
// returns the task id of the original submission instead of inserting a new
// row, so re-running a batch does not duplicate downstream work.
type Outbox struct {
	db *sql.DB

	// now is injected for tests; defaults to time.Now.
	now func() time.Time
}

// OpenOutbox creates or opens the outbox database at the given path.
// Applies required pragmas and schema automatically; safe to call multiple
// times against the same file.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect outbox: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent submission workers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("outbox: execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("outbox: apply schema: %w", err)
	}

	return &Outbox{db: db, now: time.Now}, nil
}

// Close closes the outbox database.
func (o *Outbox) Close() error {
	if o.db == nil {
		return nil
	}
	return o.db.Close()
}

// Publish records the payload and returns its task id.
//
// Uses ON CONFLICT DO NOTHING on (correlation_id, payload): if the identical
// submission already exists, the existing task id is returned and no new row
// is written. This is the insert-or-select discipline that makes re-runs
// safe from the downstream consumer's perspective.
func (o *Outbox) Publish(ctx context.Context, p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("publish %s: marshal payload: %w", p.ExternalID, err)
	}
	payloadJSON := string(data)
	taskID := uuid.Must(uuid.NewV7()).String()

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("publish %s: begin tx: %w", p.ExternalID, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (task_id, correlation_id, payload, submitted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(correlation_id, payload) DO NOTHING
	`,
		taskID,
		p.ExternalID,
		payloadJSON,
		o.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("publish %s: insert: %w", p.ExternalID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("publish %s: rows affected: %w", p.ExternalID, err)
	}

	if rowsAffected == 0 {
		// Identical submission already recorded; return its task id.
		err = tx.QueryRowContext(ctx, `
			SELECT task_id FROM submissions
			WHERE correlation_id = ? AND payload = ?
		`, p.ExternalID, payloadJSON).Scan(&taskID)
		if err != nil {
			return "", fmt.Errorf("publish %s: select existing: %w", p.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("publish %s: commit: %w", p.ExternalID, err)
	}
	return taskID, nil
}

// Count returns the number of recorded submissions for a correlation id.
// Used by tests and diagnostics.
func (o *Outbox) Count(ctx context.Context, correlationID string) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE correlation_id = ?
	`, correlationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}
