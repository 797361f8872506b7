package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"

	_ "github.com/lib/pq"
)

// PostgresJournal records pending actions in Postgres.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(db *sql.DB) (*PostgresJournal, error) {
	j := &PostgresJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *PostgresJournal) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS pending_actions (
		tx_hash TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		value BIGINT NOT NULL,
		signature TEXT NOT NULL,
		data BYTEA,
		eta TIMESTAMPTZ NOT NULL,
		queued_at TIMESTAMPTZ NOT NULL
	);`
	_, err := j.db.ExecContext(context.Background(), query)
	return err
}

func (j *PostgresJournal) MarkQueued(ctx context.Context, h timelock.ActionHash, a timelock.Action) error {
	query := `
		INSERT INTO pending_actions (tx_hash, target, value, signature, data, eta, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
	`
	_, err := j.db.ExecContext(ctx, query,
		h.String(), a.Target, int64(a.Value), a.Signature, a.Data, a.ETA.UTC(), time.Now().UTC(),
	)
	return err
}

func (j *PostgresJournal) MarkConsumed(ctx context.Context, h timelock.ActionHash) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE tx_hash = $1`, h.String())
	return err
}

func (j *PostgresJournal) PendingHashes(ctx context.Context) ([]timelock.ActionHash, error) {
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

func (j *PostgresJournal) PendingActions(ctx context.Context) (map[timelock.ActionHash]timelock.Action, error) {
	query := `SELECT tx_hash, target, value, signature, data, eta FROM pending_actions`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[timelock.ActionHash]timelock.Action)
	for rows.Next() {
		var (
			raw   string
			a     timelock.Action
			value int64
			eta   time.Time
		)
		if err := rows.Scan(&raw, &a.Target, &value, &a.Signature, &a.Data, &eta); err != nil {
			return nil, err
		}
		h, err := timelock.ParseActionHash(raw)
		if err != nil {
			return nil, err
		}
		a.Value = uint64(value)
		a.ETA = eta
		out[h] = a
	}
	return out, rows.Err()
}
