package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"

	_ "modernc.org/sqlite"
)

// SQLiteJournal records pending actions in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pending_actions (
		tx_hash TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		value INTEGER NOT NULL,
		signature TEXT NOT NULL,
		data BLOB,
		eta DATETIME NOT NULL,
		queued_at DATETIME NOT NULL
	);`
	_, err := j.db.ExecContext(context.Background(), query)
	return err
}

func (j *SQLiteJournal) MarkQueued(ctx context.Context, h timelock.ActionHash, a timelock.Action) error {
	// Re-queueing an identical action is idempotent upstream; mirror that.
	query := `
		INSERT INTO pending_actions (tx_hash, target, value, signature, data, eta, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_hash) DO NOTHING
	`
	_, err := j.db.ExecContext(ctx, query,
		h.String(), a.Target, int64(a.Value), a.Signature, a.Data,
		a.ETA.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (j *SQLiteJournal) MarkConsumed(ctx context.Context, h timelock.ActionHash) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE tx_hash = ?`, h.String())
	return err
}

func (j *SQLiteJournal) PendingHashes(ctx context.Context) ([]timelock.ActionHash, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT tx_hash FROM pending_actions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var hashes []timelock.ActionHash
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		h, err := timelock.ParseActionHash(raw)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (j *SQLiteJournal) PendingActions(ctx context.Context) (map[timelock.ActionHash]timelock.Action, error) {
	query := `SELECT tx_hash, target, value, signature, data, eta FROM pending_actions`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[timelock.ActionHash]timelock.Action)
	for rows.Next() {
		var (
			raw    string
			a      timelock.Action
			value  int64
			etaRaw string
		)
		if err := rows.Scan(&raw, &a.Target, &value, &a.Signature, &a.Data, &etaRaw); err != nil {
			return nil, err
		}
		h, err := timelock.ParseActionHash(raw)
		if err != nil {
			return nil, err
		}
		eta, err := time.Parse(time.RFC3339, etaRaw)
		if err != nil {
			return nil, err
		}
		a.Value = uint64(value)
		a.ETA = eta
		out[h] = a
	}
	return out, rows.Err()
}
