// Package sqlite provides a SQLite-backed operation journal.
//
// WAL mode is enabled on Open so the shell's status server can read the
// journal while cart operations append to it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"

	// Pure-Go driver, no CGO.
	_ "modernc.org/sqlite"
)

// schema is applied on Open. The table is append-only: one row per phase
// of an operation.
const schema = `
CREATE TABLE IF NOT EXISTS cart_journal (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id  TEXT    NOT NULL,
    identity      TEXT    NOT NULL DEFAULT '',
    op            TEXT    NOT NULL,
    product_id    TEXT    NOT NULL DEFAULT '',
    quantity      INTEGER NOT NULL DEFAULT 0,
    phase         TEXT    NOT NULL,
    outcome       TEXT    NOT NULL DEFAULT '',
    message       TEXT    NOT NULL DEFAULT '',
    trace_id      TEXT    NOT NULL DEFAULT '',
    span_id       TEXT    NOT NULL DEFAULT '',
    recorded_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cart_journal_identity ON cart_journal(identity, id);
CREATE INDEX IF NOT EXISTS idx_cart_journal_operation ON cart_journal(operation_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

// Journal implements outbound.Journal on SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path and applies the
// schema.
func Open(path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// One writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record inserts an entry. Safe for concurrent use.
func (j *Journal) Record(ctx context.Context, e journal.Entry) error {
	const q = `
		INSERT INTO cart_journal
			(operation_id, identity, op, product_id, quantity, phase, outcome, message, trace_id, span_id, recorded_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, q,
		e.OperationID,
		e.Identity,
		e.Op,
		e.ProductID,
		e.Quantity,
		string(e.Phase),
		e.Outcome,
		e.Message,
		e.TraceID,
		e.SpanID,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record %s/%s: %w", e.OperationID, e.Phase, err)
	}
	return nil
}

// Recent returns up to limit entries for identity, newest first. An empty
// identity matches every entry; a non-positive limit returns everything.
func (j *Journal) Recent(ctx context.Context, identity string, limit int) ([]journal.Entry, error) {
	const q = `
		SELECT operation_id, identity, op, product_id, quantity, phase, outcome,
		       message, trace_id, span_id, recorded_at
		FROM   cart_journal
		WHERE  (? = '' OR identity = ?)
		ORDER  BY id DESC
		LIMIT  ?`

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return j.query(ctx, q, identity, identity, limit)
}

// Divergent returns the operations whose latest entry is not terminal:
// operations that crashed between phases. Newest first.
func (j *Journal) Divergent(ctx context.Context, identity string) ([]journal.Entry, error) {
	const q = `
		SELECT c.operation_id, c.identity, c.op, c.product_id, c.quantity, c.phase,
		       c.outcome, c.message, c.trace_id, c.span_id, c.recorded_at
		FROM   cart_journal c
		JOIN  (SELECT operation_id, MAX(id) AS last_id FROM cart_journal GROUP BY operation_id) l
		       ON c.id = l.last_id
		WHERE  c.phase NOT IN (?, ?)
		  AND  (? = '' OR c.identity = ?)
		ORDER  BY c.id DESC`

	return j.query(ctx, q,
		string(journal.PhaseCompleted), string(journal.PhaseFailed), identity, identity)
}

// query runs q and scans every row into an entry.
func (j *Journal) query(ctx context.Context, q string, args ...any) ([]journal.Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query journal: %w", err)
	}
	defer rows.Close()

	out := make([]journal.Entry, 0)
	for rows.Next() {
		var (
			e     journal.Entry
			phase string
			at    string
		)
		if err := rows.Scan(&e.OperationID, &e.Identity, &e.Op, &e.ProductID, &e.Quantity,
			&phase, &e.Outcome, &e.Message, &e.TraceID, &e.SpanID, &at); err != nil {
			return nil, fmt.Errorf("sqlite: scan journal row: %w", err)
		}
		e.Phase = journal.Phase(phase)
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", at, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate journal: %w", err)
	}
	return out, nil
}
