// Package timelock implements a delayed-execution authorizer: privileged
// calls must be queued by the admin, wait out a mandatory minimum delay,
// and execute within a fixed grace window or expire. Admin-changing
// mutations are reachable only through the authorizer's own dispatch path,
// so even the admin cannot bypass the delay it enforces.
package timelock

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatekeep-labs/gatekeep/pkg/auth"
	"github.com/gatekeep-labs/gatekeep/pkg/clock"
)

// Delay policy. Fixed at compile time; the configurable delay is bounded
// by [MinimumDelay, MaximumDelay] at construction and at every update, and
// executed actions stay eligible for GracePeriod past their eta.
const (
	MinimumDelay = 2 * 24 * time.Hour
	MaximumDelay = 30 * 24 * time.Hour
	GracePeriod  = 14 * 24 * time.Hour
)

// Dispatcher routes an encoded call payload to its target and returns the
// call's result bytes.
type Dispatcher interface {
	Dispatch(ctx context.Context, target string, value uint64, payload []byte) ([]byte, error)
}

// Journal is a durable write-through record of the pending-action set. The
// in-memory state machine stays authoritative; the journal lets the
// embedding system re-seed the pending set on warm restart.
type Journal interface {
	MarkQueued(ctx context.Context, h ActionHash, a Action) error
	MarkConsumed(ctx context.Context, h ActionHash) error
}

// Timelock is the delayed-execution authorizer. All operations are atomic,
// fully serialized state transitions behind a single mutex; no operation
// ever observes another's intermediate state.
type Timelock struct {
	mu           sync.Mutex
	self         string
	admin        string
	pendingAdmin string
	delay        time.Duration
	queued       map[ActionHash]struct{}

	clock      clock.Clock
	dispatcher Dispatcher
	journal    Journal
	sink       Sink
	logger     *slog.Logger
}

// Option configures a Timelock at construction.
type Option func(*Timelock)

// WithClock injects the authority time source.
func WithClock(c clock.Clock) Option {
	return func(t *Timelock) { t.clock = c }
}

// WithDispatcher injects the call dispatcher used by Execute.
func WithDispatcher(d Dispatcher) Option {
	return func(t *Timelock) { t.dispatcher = d }
}

// WithJournal attaches a durable write-through journal.
func WithJournal(j Journal) Option {
	return func(t *Timelock) { t.journal = j }
}

// WithSink attaches a notification sink.
func WithSink(s Sink) Option {
	return func(t *Timelock) { t.sink = s }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Timelock) { t.logger = l }
}

// WithPendingHashes seeds the pending set, typically from a journal's
// surviving records on warm restart.
func WithPendingHashes(hashes ...ActionHash) Option {
	return func(t *Timelock) {
		for _, h := range hashes {
			t.queued[h] = struct{}{}
		}
	}
}

// New constructs a Timelock. selfID is the authorizer's own identity (the
// target of self-call actions); admin is the sole principal permitted to
// queue, cancel, and execute. Fails with ErrInvalidDelay if delay is
// outside [MinimumDelay, MaximumDelay].
func New(selfID, admin string, delay time.Duration, opts ...Option) (*Timelock, error) {
	if delay < MinimumDelay || delay > MaximumDelay {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDelay, delay, MinimumDelay, MaximumDelay)
	}
	if selfID == "" {
		return nil, fmt.Errorf("timelock: empty self identity")
	}
	if admin == "" {
		return nil, fmt.Errorf("timelock: empty admin identity")
	}

	t := &Timelock{
		self:   selfID,
		admin:  admin,
		delay:  delay,
		queued: make(map[ActionHash]struct{}),
		clock:  clock.Wall{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ID returns the authorizer's own identity.
func (t *Timelock) ID() string { return t.self }

// Admin returns the current admin identity.
func (t *Timelock) Admin() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admin
}

// PendingAdmin returns the proposed successor admin, or "" if none.
func (t *Timelock) PendingAdmin() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingAdmin
}

// Delay returns the current minimum delay.
func (t *Timelock) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Queued reports whether h is currently pending. Executed and cancelled
// hashes read false, indistinguishable from never-queued.
func (t *Timelock) Queued(h ActionHash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.queued[h]
	return ok
}

// selfCallKey marks contexts minted by Execute's dispatch path. The key is
// unexported, so no caller outside this package can forge a self-call
// context; presence of the marker is the capability that authorizes
// SetDelay and SetPendingAdmin.
type selfCallKey struct{}

func withSelfCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, selfCallKey{}, true)
}

func isSelfCall(ctx context.Context) bool {
	ok, _ := ctx.Value(selfCallKey{}).(bool)
	return ok
}

// SetDelay updates the minimum delay. It is reachable only through the
// authorizer's own dispatch path: queue a SetDelayAction and execute it
// once its eta arrives. Direct calls, including by the admin, fail with
// ErrUnauthorized. The timelock's mutex is already held on the self-call
// path, so no locking happens here.
func (t *Timelock) SetDelay(ctx context.Context, newDelay time.Duration) error {
	if !isSelfCall(ctx) {
		return fmt.Errorf("%w: setDelay must come from the timelock itself", ErrUnauthorized)
	}
	if newDelay < MinimumDelay || newDelay > MaximumDelay {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDelay, newDelay, MinimumDelay, MaximumDelay)
	}

	t.delay = newDelay
	t.emit(ctx, NewDelay{NewDelay: newDelay})
	return nil
}

// SetPendingAdmin proposes a successor admin. Same self-call-only
// authorization as SetDelay; the identity value itself is not validated,
// and the empty identity cancels a pending handoff.
func (t *Timelock) SetPendingAdmin(ctx context.Context, newPendingAdmin string) error {
	if !isSelfCall(ctx) {
		return fmt.Errorf("%w: setPendingAdmin must come from the timelock itself", ErrUnauthorized)
	}

	t.pendingAdmin = newPendingAdmin
	t.emit(ctx, NewPendingAdmin{NewPendingAdmin: newPendingAdmin})
	return nil
}

// AcceptAdmin finalizes a two-phase admin handoff. Only the current
// pendingAdmin may call it; on success admin is overwritten and
// pendingAdmin cleared in one transition, with no intermediate observable
// state. This is the only path by which admin changes after construction.
func (t *Timelock) AcceptAdmin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	caller := auth.CallerID(ctx)
	if t.pendingAdmin == "" || caller != t.pendingAdmin {
		return fmt.Errorf("%w: acceptAdmin requires the pending admin", ErrUnauthorized)
	}

	t.admin = t.pendingAdmin
	t.pendingAdmin = ""
	t.emit(ctx, NewAdmin{NewAdmin: t.admin})
	return nil
}

// Queue schedules an action for delayed execution and returns its hash.
// Admin only. The eta must be at least delay in the future at queue time.
// Re-queueing an identical action is an idempotent success, not an error.
func (t *Timelock) Queue(ctx context.Context, a Action) (ActionHash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if auth.CallerID(ctx) != t.admin {
		return ActionHash{}, fmt.Errorf("%w: queue requires the admin", ErrUnauthorized)
	}

	now := t.clock.Now()
	if a.ETA.Before(now.Add(t.delay)) {
		return ActionHash{}, fmt.Errorf("%w: eta %s precedes %s", ErrInsufficientDelay, a.ETA.UTC(), now.Add(t.delay).UTC())
	}

	h := a.Hash()
	if t.journal != nil {
		if err := t.journal.MarkQueued(ctx, h, a); err != nil {
			return ActionHash{}, fmt.Errorf("timelock: journal queue %s: %w", h, err)
		}
	}
	t.queued[h] = struct{}{}
	t.emit(ctx, QueueTransaction{TxHash: h, Action: a})
	return h, nil
}

// Cancel removes an action from the pending set. Admin only. Cancelling a
// hash that is not pending succeeds silently; the cancellation
// notification fires regardless of prior state.
func (t *Timelock) Cancel(ctx context.Context, a Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if auth.CallerID(ctx) != t.admin {
		return fmt.Errorf("%w: cancel requires the admin", ErrUnauthorized)
	}

	h := a.Hash()
	if t.journal != nil {
		if err := t.journal.MarkConsumed(ctx, h); err != nil {
			return fmt.Errorf("timelock: journal cancel %s: %w", h, err)
		}
	}
	delete(t.queued, h)
	t.emit(ctx, CancelTransaction{TxHash: h, Action: a})
	return nil
}

// Execute runs a queued action whose time window is open and returns the
// dispatched call's result. Admin only. Checks run in a fixed order: the
// hash must be pending (ErrNotQueued), now must be at or past eta
// (ErrTooEarly), and now must precede eta + GracePeriod (ErrExpired). The
// queued flag is consumed exactly once, and only if the dispatched call
// succeeds; a reverted inner call leaves all state unchanged and surfaces
// as CallRevertedError.
func (t *Timelock) Execute(ctx context.Context, a Action) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if auth.CallerID(ctx) != t.admin {
		return nil, fmt.Errorf("%w: execute requires the admin", ErrUnauthorized)
	}

	h := a.Hash()
	if _, ok := t.queued[h]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotQueued, h)
	}

	now := t.clock.Now()
	if now.Before(a.ETA) {
		return nil, fmt.Errorf("%w: %s precedes eta %s", ErrTooEarly, now.UTC(), a.ETA.UTC())
	}
	if !now.Before(a.ETA.Add(GracePeriod)) {
		return nil, fmt.Errorf("%w: eta %s is past its grace window", ErrExpired, a.ETA.UTC())
	}

	if t.dispatcher == nil {
		return nil, &CallRevertedError{Hash: h, Err: fmt.Errorf("no dispatcher configured")}
	}

	// The dispatch context carries the timelock's own identity plus the
	// unforgeable self-call marker; this is the only route by which
	// SetDelay and SetPendingAdmin ever succeed. The mutex stays held
	// across the dispatch, so the transition commits all-or-nothing.
	callCtx := withSelfCall(auth.WithPrincipal(ctx, auth.Caller(t.self)))
	result, err := t.dispatcher.Dispatch(callCtx, a.Target, a.Value, a.Payload())
	if err != nil {
		return nil, &CallRevertedError{Hash: h, Err: err}
	}

	delete(t.queued, h)
	if t.journal != nil {
		// The in-memory transition is already committed and the inner
		// call has run; a trailing journal failure is surfaced in the
		// log rather than unwinding an execution that happened.
		if jerr := t.journal.MarkConsumed(ctx, h); jerr != nil {
			t.logger.Error("journal consume failed", "hash", h.String(), "error", jerr)
		}
	}
	t.emit(ctx, ExecuteTransaction{TxHash: h, Action: a})
	return result, nil
}

// SelfDispatchHandler returns the dispatch handler for the timelock's own
// target identity. Register it under ID() so queued self-call actions can
// reach SetDelay and SetPendingAdmin; nothing else routes to them.
func (t *Timelock) SelfDispatchHandler() func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
	selSetDelay := Selector(SigSetDelay)
	selSetPendingAdmin := Selector(SigSetPendingAdmin)

	return func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		if len(payload) < 4 {
			return nil, fmt.Errorf("timelock self-call: payload too short for selector")
		}
		var sel [4]byte
		copy(sel[:], payload[:4])
		args := payload[4:]

		switch sel {
		case selSetDelay:
			if len(args) != 8 {
				return nil, fmt.Errorf("%s: want 8-byte argument, got %d", SigSetDelay, len(args))
			}
			d := time.Duration(binary.BigEndian.Uint64(args)) * time.Second
			return nil, t.SetDelay(ctx, d)
		case selSetPendingAdmin:
			return nil, t.SetPendingAdmin(ctx, string(args))
		default:
			return nil, fmt.Errorf("timelock self-call: unknown selector %x", sel)
		}
	}
}

func (t *Timelock) emit(ctx context.Context, n Notification) {
	if t.sink == nil {
		return
	}
	t.sink.Emit(ctx, n)
}
