// Package journal keeps a local SQLite record of every submission the
// client made, confirmed or not.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"vaultctl/internal/multisig"
)

// Journal manages the submissions table
type Journal struct {
	db  *sql.DB
	log *zap.Logger
}

// Entry is one recorded submission
type Entry struct {
	ID        string
	Multisig  string
	Op        string
	Index     uint64
	Signature string // empty when the submission failed
	Kind      string
	Error     string
	At        time.Time
	Duration  time.Duration
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string, log *zap.Logger) (*Journal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// One connection, so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, log: log}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		multisig TEXT NOT NULL,
		op TEXT NOT NULL,
		tx_index INTEGER NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_index
		ON submissions(multisig, tx_index);

	CREATE INDEX IF NOT EXISTS idx_submissions_at
		ON submissions(at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record inserts e, assigning an ID when it has none.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO submissions (id, multisig, op, tx_index, signature, kind, error, at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Multisig, e.Op, int64(e.Index), e.Signature, e.Kind, e.Error, e.At.UTC(), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s #%d: %w", e.Op, e.Index, err)
	}
	return nil
}

// Recorder adapts the journal to a multisig.Observer for one multisig.
type Recorder struct {
	journal  *Journal
	multisig string
}

func (j *Journal) Recorder(multisig string) *Recorder {
	return &Recorder{journal: j, multisig: multisig}
}

// Observe records e. A journal write failure is logged; the submission
// outcome has already been returned to the caller.
func (r *Recorder) Observe(ctx context.Context, e multisig.Event) {
	entry := &Entry{
		Multisig: r.multisig,
		Op:       e.Op,
		Index:    e.Index,
		Kind:     multisig.KindOf(e.Err),
		At:       e.At,
		Duration: e.Duration,
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	} else {
		entry.Signature = e.Signature.String()
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		r.journal.log.Error("journal write failed", zap.Error(err))
	}
}

// List returns the most recent entries first, at most limit of them.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx,
		`SELECT id, multisig, op, tx_index, signature, kind, error, at, duration_ms
		 FROM submissions ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
}

// ForIndex returns every entry for one transaction index, oldest first.
func (j *Journal) ForIndex(ctx context.Context, multisig string, index uint64) ([]Entry, error) {
	return j.query(ctx,
		`SELECT id, multisig, op, tx_index, signature, kind, error, at, duration_ms
		 FROM submissions WHERE multisig = ? AND tx_index = ? ORDER BY at, rowid`, multisig, int64(index))
}

func (j *Journal) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			index    int64
			duration int64
		)
		if err := rows.Scan(&e.ID, &e.Multisig, &e.Op, &index, &e.Signature, &e.Kind, &e.Error, &e.At, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Index = uint64(index)
		e.Duration = time.Duration(duration) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
