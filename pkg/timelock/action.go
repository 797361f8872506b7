package timelock

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/sha3"
)

// ActionHash is the content identity of an Action.
type ActionHash [32]byte

func (h ActionHash) String() string { return hex.EncodeToString(h[:]) }

// MarshalText lets hashes round-trip through JSON as hex strings.
func (h ActionHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ActionHash) UnmarshalText(text []byte) error {
	parsed, err := ParseActionHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseActionHash decodes a 64-character hex string into an ActionHash.
func ParseActionHash(s string) (ActionHash, error) {
	var h ActionHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse action hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("parse action hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Action is a proposed privileged call. Its identity is the hash of its
// full content: identical fields collide deliberately (idempotent queuing
// key), and any change to any field produces an unrelated identity. An
// action cannot be edited in place; it must be cancelled and re-queued.
type Action struct {
	// Target identifies the recipient of the call.
	Target string `json:"target"`
	// Value is the numeric amount transferred alongside the call.
	Value uint64 `json:"value"`
	// Signature names the function to invoke; may be empty for raw calls.
	Signature string `json:"signature"`
	// Data is the opaque encoded-argument payload; may be empty.
	Data []byte `json:"data"`
	// ETA is the earliest timestamp at which the action may execute,
	// at second granularity.
	ETA time.Time `json:"eta"`
}

// Hash computes the action's content identity: Keccak-256 over a
// length-prefixed encoding of all five fields. Pure function, no salt;
// external indexers recompute it independently from the same fields.
func (a Action) Hash() ActionHash {
	d := sha3.NewLegacyKeccak256()
	writeLenPrefixed(d, []byte(a.Target))
	writeUint64(d, a.Value)
	writeLenPrefixed(d, []byte(a.Signature))
	writeLenPrefixed(d, a.Data)
	writeUint64(d, uint64(a.ETA.Unix()))

	var h ActionHash
	copy(h[:], d.Sum(nil))
	return h
}

// Payload returns the call payload for dispatch. An empty Signature sends
// Data verbatim; otherwise the first four bytes of Keccak-256(Signature)
// are prepended to Data (selector-based dispatch). This branching rule is
// load-bearing for hash and dispatch compatibility with external tooling;
// do not generalize it.
func (a Action) Payload() []byte {
	if a.Signature == "" {
		return a.Data
	}
	sel := Selector(a.Signature)
	return append(sel[:], a.Data...)
}

// Selector returns the first four bytes of Keccak-256(signature).
func Selector(signature string) [4]byte {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(signature))

	var sel [4]byte
	copy(sel[:], d.Sum(nil))
	return sel
}

func writeLenPrefixed(w io.Writer, b []byte) {
	writeUint64(w, uint64(len(b)))
	_, _ = w.Write(b)
}

func writeUint64(w io.Writer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

// Signatures of the timelock's own privileged mutations. Actions carrying
// these signatures against the timelock's own target identity are the only
// route to changing the delay or proposing a successor admin.
const (
	SigSetDelay        = "setDelay(uint256)"
	SigSetPendingAdmin = "setPendingAdmin(address)"
)

// SetDelayAction builds the self-call action that updates the delay to d
// once executed. target must be the timelock's own identity.
func SetDelayAction(target string, d time.Duration, eta time.Time) Action {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(d/time.Second))
	return Action{Target: target, Signature: SigSetDelay, Data: data[:], ETA: eta}
}

// SetPendingAdminAction builds the self-call action that proposes
// newPendingAdmin once executed. target must be the timelock's own
// identity. An empty newPendingAdmin cancels a pending handoff.
func SetPendingAdminAction(target, newPendingAdmin string, eta time.Time) Action {
	return Action{Target: target, Signature: SigSetPendingAdmin, Data: []byte(newPendingAdmin), ETA: eta}
}
