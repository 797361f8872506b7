// Package minter is the token-minting collaborator. Its only contract
// with the authorizer is that Mint produces a strictly increasing,
// previously-unused identifier per call on a given instance.
package minter

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// SigMint is the dispatch signature for a minting action; the encoded
// argument is the recipient identity verbatim.
const SigMint = "mint(address)"

// Minter issues monotonically increasing token identifiers.
type Minter struct {
	mu     sync.Mutex
	next   uint64
	owners map[uint64]string
}

func New() *Minter {
	return &Minter{next: 1, owners: make(map[uint64]string)}
}

// Mint assigns the next token identifier to the recipient.
func (m *Minter) Mint(ctx context.Context, to string) (uint64, error) {
	if to == "" {
		return 0, fmt.Errorf("minter: empty recipient")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.owners[id] = to
	return id, nil
}

// OwnerOf returns the recipient a token was minted to.
func (m *Minter) OwnerOf(id uint64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[id]
	return owner, ok
}

// Supply returns the number of tokens minted so far.
func (m *Minter) Supply() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next - 1
}

// Handler returns the dispatch handler for this minter, so queued actions
// can mint through the authorizer. The result bytes are the token
// identifier, big-endian.
func (m *Minter) Handler() func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
	selMint := timelock.Selector(SigMint)

	return func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		if len(payload) < 4 {
			return nil, fmt.Errorf("minter: payload too short for selector")
		}
		var sel [4]byte
		copy(sel[:], payload[:4])
		if sel != selMint {
			return nil, fmt.Errorf("minter: unknown selector %x", sel)
		}

		id, err := m.Mint(ctx, string(payload[4:]))
		if err != nil {
			return nil, err
		}
		var out [8]byte
		binary.BigEndian.PutUint64(out[:], id)
		return out[:], nil
	}
}

// MintAction builds the action that mints a token to the recipient once
// executed. target is the minter's registered dispatch identity.
func MintAction(target, to string, eta time.Time) timelock.Action {
	return timelock.Action{Target: target, Signature: SigMint, Data: []byte(to), ETA: eta}
}
