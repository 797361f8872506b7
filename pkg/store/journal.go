// Package store provides durable write-through journals for the
// authorizer's pending-action set. The in-memory state machine stays
// authoritative; a journal records queue and consume transitions so the
// embedding system can re-seed the pending set on warm restart.
package store

import (
	"context"
	"sync"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// Journal extends the authorizer's journal contract with the load side
// used at startup.
type Journal interface {
	timelock.Journal

	// PendingHashes returns the hashes still marked queued.
	PendingHashes(ctx context.Context) ([]timelock.ActionHash, error)

	// PendingActions returns the full surviving records, keyed by hash.
	// Callers needing to cancel or execute after a restart recover the
	// action fields from here.
	PendingActions(ctx context.Context) (map[timelock.ActionHash]timelock.Action, error)
}

// MemoryJournal is an in-process Journal for tests and ephemeral
// embeddings.
type MemoryJournal struct {
	mu      sync.Mutex
	pending map[timelock.ActionHash]timelock.Action
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{pending: make(map[timelock.ActionHash]timelock.Action)}
}

func (m *MemoryJournal) MarkQueued(ctx context.Context, h timelock.ActionHash, a timelock.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[h] = a
	return nil
}

func (m *MemoryJournal) MarkConsumed(ctx context.Context, h timelock.ActionHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, h)
	return nil
}

func (m *MemoryJournal) PendingHashes(ctx context.Context) ([]timelock.ActionHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := make([]timelock.ActionHash, 0, len(m.pending))
	for h := range m.pending {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (m *MemoryJournal) PendingActions(ctx context.Context) (map[timelock.ActionHash]timelock.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[timelock.ActionHash]timelock.Action, len(m.pending))
	for h, a := range m.pending {
		out[h] = a
	}
	return out, nil
}
