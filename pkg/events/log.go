package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// Envelope is one committed notification record.
type Envelope struct {
	EventID     string          `json:"event_id"`
	Name        string          `json:"name"`
	Sequence    uint64          `json:"sequence"`
	CommittedAt time.Time       `json:"committed_at"`
	PayloadHash string          `json:"payload_hash"`
	Payload     json.RawMessage `json:"payload"`
}

// Log is an append-only, hash-chained record of every notification the
// authorizer commits. Payloads are canonicalized (RFC 8785 JCS) before
// hashing, so two logs fed the same notifications converge on the same
// cumulative hash.
type Log struct {
	mu       sync.RWMutex
	entries  []*Envelope
	sequence uint64
	head     string
	logger   *slog.Logger
}

func NewLog() *Log {
	return &Log{head: genesisHead, logger: slog.Default()}
}

const genesisHead = "genesis"

// Emit appends the notification. Marshal failures are logged and dropped;
// the log must never push an error back into the state machine.
func (l *Log) Emit(ctx context.Context, n timelock.Notification) {
	raw, err := json.Marshal(n)
	if err != nil {
		l.logger.Error("notification marshal failed", "event", n.EventName(), "error", err)
		return
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		l.logger.Error("notification canonicalize failed", "event", n.EventName(), "error", err)
		return
	}

	payloadHash := sha256.Sum256(canonical)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	chain := sha256.Sum256([]byte(l.head + ":" + hex.EncodeToString(payloadHash[:])))
	l.head = hex.EncodeToString(chain[:])

	l.entries = append(l.entries, &Envelope{
		EventID:     uuid.New().String(),
		Name:        n.EventName(),
		Sequence:    l.sequence,
		CommittedAt: time.Now().UTC(),
		PayloadHash: hex.EncodeToString(payloadHash[:]),
		Payload:     json.RawMessage(canonical),
	})
}

// Len returns the number of committed records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the cumulative chain hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Get returns the record at the given sequence number (1-based).
func (l *Log) Get(seq uint64) (*Envelope, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("events: no record at sequence %d", seq)
	}
	return l.entries[seq-1], nil
}

// Entries returns a snapshot of all committed records in commit order.
func (l *Log) Entries() []*Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Envelope, len(l.entries))
	copy(out, l.entries)
	return out
}

// Verify walks the chain and reports the first inconsistency, if any.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	head := genesisHead
	for i, e := range l.entries {
		chain := sha256.Sum256([]byte(head + ":" + e.PayloadHash))
		head = hex.EncodeToString(chain[:])
		if e.Sequence != uint64(i+1) {
			return fmt.Errorf("events: sequence gap at record %d", i+1)
		}
	}
	if head != l.head {
		return fmt.Errorf("events: head mismatch: computed %s, stored %s", head, l.head)
	}
	return nil
}
