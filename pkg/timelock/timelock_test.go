package timelock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep-labs/gatekeep/pkg/auth"
	"github.com/gatekeep-labs/gatekeep/pkg/clock"
	"github.com/gatekeep-labs/gatekeep/pkg/dispatch"
	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

const (
	selfID  = "timelock"
	adminID = "admin-a"
)

func adminCtx() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Caller(adminID))
}

func callerCtx(id string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Caller(id))
}

// captureSink records notifications in commit order.
type captureSink struct {
	mu    sync.Mutex
	notes []timelock.Notification
}

func (c *captureSink) Emit(ctx context.Context, n timelock.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
}

func (c *captureSink) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.notes))
	for i, n := range c.notes {
		out[i] = n.EventName()
	}
	return out
}

func (c *captureSink) last() timelock.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.notes) == 0 {
		return nil
	}
	return c.notes[len(c.notes)-1]
}

type fixture struct {
	tl       *timelock.Timelock
	clk      *clock.Manual
	registry *dispatch.Registry
	sink     *captureSink
}

func newFixture(t *testing.T, delay time.Duration, start time.Time) *fixture {
	t.Helper()

	clk := clock.NewManual(start)
	registry := dispatch.NewRegistry()
	sink := &captureSink{}

	tl, err := timelock.New(selfID, adminID, delay,
		timelock.WithClock(clk),
		timelock.WithDispatcher(registry),
		timelock.WithSink(sink),
	)
	require.NoError(t, err)
	require.NoError(t, registry.Register(tl.ID(), tl.SelfDispatchHandler()))

	return &fixture{tl: tl, clk: clk, registry: registry, sink: sink}
}

func TestNewValidatesDelayBounds(t *testing.T) {
	for _, delay := range []time.Duration{
		timelock.MinimumDelay - time.Second,
		timelock.MaximumDelay + time.Second,
		0,
	} {
		_, err := timelock.New(selfID, adminID, delay)
		assert.ErrorIs(t, err, timelock.ErrInvalidDelay, "delay %s", delay)
	}

	tl, err := timelock.New(selfID, adminID, timelock.MinimumDelay)
	require.NoError(t, err)
	assert.Equal(t, adminID, tl.Admin())
	assert.Equal(t, "", tl.PendingAdmin())
	assert.Equal(t, timelock.MinimumDelay, tl.Delay())
}

func TestQueueRequiresAdmin(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))
	a := timelock.Action{Target: "x", ETA: f.clk.Now().Add(8 * 24 * time.Hour)}

	_, err := f.tl.Queue(callerCtx("mallory"), a)
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)

	_, err = f.tl.Queue(context.Background(), a)
	assert.ErrorIs(t, err, timelock.ErrUnauthorized, "unauthenticated context")

	h, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)
	assert.True(t, f.tl.Queued(h))
}

func TestQueueEnforcesMinimumDelay(t *testing.T) {
	delay := 7 * 24 * time.Hour
	f := newFixture(t, delay, time.Unix(1000, 0))

	tooSoon := timelock.Action{Target: "x", ETA: f.clk.Now().Add(delay - time.Second)}
	_, err := f.tl.Queue(adminCtx(), tooSoon)
	assert.ErrorIs(t, err, timelock.ErrInsufficientDelay)

	exact := timelock.Action{Target: "x", ETA: f.clk.Now().Add(delay)}
	_, err = f.tl.Queue(adminCtx(), exact)
	assert.NoError(t, err, "eta exactly now+delay is allowed")
}

func TestQueueIsIdempotent(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))
	a := timelock.Action{Target: "x", ETA: f.clk.Now().Add(8 * 24 * time.Hour)}

	h1, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)
	h2, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err, "re-queueing an identical action is not an error")
	assert.Equal(t, h1, h2)
	assert.True(t, f.tl.Queued(h1))
}

func TestQueueThenCancelRoundTrip(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))
	a := timelock.Action{
		Target:    "treasury",
		Value:     500,
		Signature: "transfer(address,uint256)",
		Data:      []byte{0x01, 0x02},
		ETA:       f.clk.Now().Add(8 * 24 * time.Hour),
	}

	h, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)
	require.True(t, f.tl.Queued(h))

	require.NoError(t, f.tl.Cancel(adminCtx(), a))
	assert.False(t, f.tl.Queued(h))
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))
	a := timelock.Action{Target: "x", ETA: f.clk.Now().Add(8 * 24 * time.Hour)}

	// Cancelling a never-queued action succeeds silently and still
	// notifies.
	require.NoError(t, f.tl.Cancel(adminCtx(), a))
	assert.Equal(t, []string{"CancelTransaction"}, f.sink.names())

	require.NoError(t, f.tl.Cancel(adminCtx(), a))
	assert.Equal(t, []string{"CancelTransaction", "CancelTransaction"}, f.sink.names())

	err := f.tl.Cancel(callerCtx("mallory"), a)
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
}

func TestExecuteTimeWindow(t *testing.T) {
	start := time.Unix(1000, 0)
	delay := 7 * 24 * time.Hour
	f := newFixture(t, delay, start)
	require.NoError(t, f.registry.Register("noop", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return []byte("done"), nil
	}))

	eta := start.Add(delay)
	a := timelock.Action{Target: "noop", ETA: eta}
	_, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	// Before eta.
	f.clk.Set(eta.Add(-time.Second))
	_, err = f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrTooEarly)

	// At eta + GracePeriod the window has closed.
	f.clk.Set(eta.Add(timelock.GracePeriod))
	_, err = f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrExpired)

	// Just inside the window.
	f.clk.Set(eta.Add(timelock.GracePeriod - time.Second))
	result, err := f.tl.Execute(adminCtx(), a)
	require.NoError(t, err)
	assert.Equal(t, []byte("done"), result)
	assert.False(t, f.tl.Queued(a.Hash()))
}

func TestExecutePastGracePeriodFails(t *testing.T) {
	start := time.Unix(1000, 0)
	delay := 7 * 24 * time.Hour
	f := newFixture(t, delay, start)

	eta := start.Add(delay)
	a := timelock.Action{Target: "noop", ETA: eta}
	_, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	// Two weeks plus a second past eta.
	f.clk.Set(eta.Add(2*7*24*time.Hour + time.Second))
	_, err = f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrExpired)
	assert.True(t, f.tl.Queued(a.Hash()), "expired actions stay queued; no sweep")
}

func TestExecuteConsumesOnce(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)
	require.NoError(t, f.registry.Register("noop", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, nil
	}))

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.Action{Target: "noop", ETA: eta}
	_, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), a)
	require.NoError(t, err)

	_, err = f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrNotQueued, "second execution of the same hash")
}

func TestExecuteRequiresQueued(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	a := timelock.Action{Target: "noop", ETA: start.Add(8 * 24 * time.Hour)}
	_, err := f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrNotQueued)

	// NotQueued wins over the timing checks: same action, clock far past
	// the grace window, still NotQueued.
	f.clk.Set(start.Add(100 * 24 * time.Hour))
	_, err = f.tl.Execute(adminCtx(), a)
	assert.ErrorIs(t, err, timelock.ErrNotQueued)
}

func TestExecuteRevertedCallLeavesStateUnchanged(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	boom := errors.New("inner failure")
	require.NoError(t, f.registry.Register("flaky", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, boom
	}))

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.Action{Target: "flaky", ETA: eta}
	h, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), a)

	var reverted *timelock.CallRevertedError
	require.ErrorAs(t, err, &reverted)
	assert.Equal(t, h, reverted.Hash)
	assert.ErrorIs(t, err, boom, "inner failure reason propagates")
	assert.True(t, f.tl.Queued(h), "consumption must not persist on a failed inner call")

	// Fix the target and the same queued action executes.
	require.NoError(t, f.registry.Register("flaky", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return []byte("ok"), nil
	}))
	result, err := f.tl.Execute(adminCtx(), a)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)
	assert.False(t, f.tl.Queued(h))
}

func TestSetDelayDirectCallUnauthorized(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))

	// Even the admin cannot bypass the delay by calling directly.
	err := f.tl.SetDelay(adminCtx(), 14*24*time.Hour)
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
	assert.Equal(t, 7*24*time.Hour, f.tl.Delay())

	err = f.tl.SetPendingAdmin(adminCtx(), "admin-b")
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
	assert.Equal(t, "", f.tl.PendingAdmin())
}

// TestSetDelayThroughTimelock runs the concrete scenario: delay seven
// days, construct at t=100, queue setDelay(1209600) with eta=604900,
// execute at t=604900.
func TestSetDelayThroughTimelock(t *testing.T) {
	start := time.Unix(100, 0)
	delay := 604800 * time.Second
	f := newFixture(t, delay, start)

	eta := time.Unix(604900, 0)
	a := timelock.SetDelayAction(f.tl.ID(), 1209600*time.Second, eta)

	h, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)
	require.True(t, f.tl.Queued(h))

	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), a)
	require.NoError(t, err)

	assert.Equal(t, 1209600*time.Second, f.tl.Delay())
	assert.False(t, f.tl.Queued(h))

	names := f.sink.names()
	assert.Contains(t, names, "NewDelay")
	nd, ok := f.sink.notes[len(f.sink.notes)-2].(timelock.NewDelay)
	require.True(t, ok, "NewDelay fires before ExecuteTransaction")
	assert.Equal(t, 1209600*time.Second, nd.NewDelay)
}

func TestSetDelayThroughTimelockValidatesBounds(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.SetDelayAction(f.tl.ID(), time.Hour, eta) // below MinimumDelay

	_, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err, "queueing does not validate the inner call")

	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), a)
	var reverted *timelock.CallRevertedError
	require.ErrorAs(t, err, &reverted)
	assert.ErrorIs(t, err, timelock.ErrInvalidDelay)
	assert.Equal(t, 7*24*time.Hour, f.tl.Delay(), "state unchanged on reverted self-call")
	assert.True(t, f.tl.Queued(a.Hash()))
}

func TestTwoPhaseAdminHandoff(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.SetPendingAdminAction(f.tl.ID(), "admin-b", eta)
	_, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), a)
	require.NoError(t, err)
	require.Equal(t, "admin-b", f.tl.PendingAdmin())
	require.Equal(t, adminID, f.tl.Admin(), "admin unchanged until acceptance")

	// Only the pending admin may accept.
	err = f.tl.AcceptAdmin(adminCtx())
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
	err = f.tl.AcceptAdmin(callerCtx("mallory"))
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)

	require.NoError(t, f.tl.AcceptAdmin(callerCtx("admin-b")))
	assert.Equal(t, "admin-b", f.tl.Admin())
	assert.Equal(t, "", f.tl.PendingAdmin())

	na, ok := f.sink.last().(timelock.NewAdmin)
	require.True(t, ok)
	assert.Equal(t, "admin-b", na.NewAdmin)

	// Acceptance is a one-shot: a second call finds no pending admin.
	err = f.tl.AcceptAdmin(callerCtx("admin-b"))
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)

	// Authority actually moved.
	_, err = f.tl.Queue(adminCtx(), timelock.Action{Target: "x", ETA: f.clk.Now().Add(8 * 24 * time.Hour)})
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
	_, err = f.tl.Queue(callerCtx("admin-b"), timelock.Action{Target: "x", ETA: f.clk.Now().Add(8 * 24 * time.Hour)})
	assert.NoError(t, err)
}

func TestAcceptAdminWithNoPendingAdmin(t *testing.T) {
	f := newFixture(t, 7*24*time.Hour, time.Unix(1000, 0))

	// No identity matches an empty pendingAdmin, including the empty
	// caller.
	err := f.tl.AcceptAdmin(context.Background())
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
}

func TestClearPendingAdmin(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	eta := start.Add(8 * 24 * time.Hour)
	propose := timelock.SetPendingAdminAction(f.tl.ID(), "admin-b", eta)
	_, err := f.tl.Queue(adminCtx(), propose)
	require.NoError(t, err)
	f.clk.Set(eta)
	_, err = f.tl.Execute(adminCtx(), propose)
	require.NoError(t, err)
	require.Equal(t, "admin-b", f.tl.PendingAdmin())

	// Setting the empty identity cancels the handoff.
	eta2 := eta.Add(8 * 24 * time.Hour)
	clear := timelock.SetPendingAdminAction(f.tl.ID(), "", eta2)
	_, err = f.tl.Queue(adminCtx(), clear)
	require.NoError(t, err)
	f.clk.Set(eta2)
	_, err = f.tl.Execute(adminCtx(), clear)
	require.NoError(t, err)

	assert.Equal(t, "", f.tl.PendingAdmin())
	err = f.tl.AcceptAdmin(callerCtx("admin-b"))
	assert.ErrorIs(t, err, timelock.ErrUnauthorized)
}

func TestNotificationFieldSets(t *testing.T) {
	start := time.Unix(1000, 0)
	f := newFixture(t, 7*24*time.Hour, start)

	a := timelock.Action{
		Target:    "treasury",
		Value:     9,
		Signature: "transfer(address,uint256)",
		Data:      []byte{0xAA},
		ETA:       start.Add(8 * 24 * time.Hour),
	}
	h, err := f.tl.Queue(adminCtx(), a)
	require.NoError(t, err)

	q, ok := f.sink.last().(timelock.QueueTransaction)
	require.True(t, ok)
	assert.Equal(t, h, q.TxHash)
	assert.Equal(t, a.Target, q.Target)
	assert.Equal(t, a.Value, q.Value)
	assert.Equal(t, a.Signature, q.Signature)
	assert.Equal(t, a.Data, q.Data)
	assert.True(t, a.ETA.Equal(q.ETA))

	require.NoError(t, f.tl.Cancel(adminCtx(), a))
	c, ok := f.sink.last().(timelock.CancelTransaction)
	require.True(t, ok)
	assert.Equal(t, h, c.TxHash)
}

func TestJournalWriteThrough(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := clock.NewManual(start)
	registry := dispatch.NewRegistry()
	journal := &recordingJournal{pending: map[timelock.ActionHash]timelock.Action{}}

	tl, err := timelock.New(selfID, adminID, 7*24*time.Hour,
		timelock.WithClock(clk),
		timelock.WithDispatcher(registry),
		timelock.WithJournal(journal),
	)
	require.NoError(t, err)
	require.NoError(t, registry.Register("noop", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, nil
	}))

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.Action{Target: "noop", ETA: eta}
	h, err := tl.Queue(adminCtx(), a)
	require.NoError(t, err)
	assert.Contains(t, journal.pending, h)

	clk.Set(eta)
	_, err = tl.Execute(adminCtx(), a)
	require.NoError(t, err)
	assert.NotContains(t, journal.pending, h)

	// A failing journal blocks queuing before any in-memory mutation.
	journal.fail = true
	a2 := timelock.Action{Target: "noop", Value: 1, ETA: eta.Add(8 * 24 * time.Hour)}
	clk.Set(start)
	_, err = tl.Queue(adminCtx(), a2)
	require.Error(t, err)
	assert.False(t, tl.Queued(a2.Hash()))
}

func TestWarmRestartSeedsPendingSet(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := clock.NewManual(start)
	registry := dispatch.NewRegistry()
	require.NoError(t, registry.Register("noop", func(ctx context.Context, value uint64, payload []byte) ([]byte, error) {
		return nil, nil
	}))

	eta := start.Add(8 * 24 * time.Hour)
	a := timelock.Action{Target: "noop", ETA: eta}

	tl, err := timelock.New(selfID, adminID, 7*24*time.Hour,
		timelock.WithClock(clk),
		timelock.WithDispatcher(registry),
		timelock.WithPendingHashes(a.Hash()),
	)
	require.NoError(t, err)
	require.True(t, tl.Queued(a.Hash()))

	clk.Set(eta)
	_, err = tl.Execute(adminCtx(), a)
	assert.NoError(t, err)
}

type recordingJournal struct {
	mu      sync.Mutex
	pending map[timelock.ActionHash]timelock.Action
	fail    bool
}

func (j *recordingJournal) MarkQueued(ctx context.Context, h timelock.ActionHash, a timelock.Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return fmt.Errorf("journal unavailable")
	}
	j.pending[h] = a
	return nil
}

func (j *recordingJournal) MarkConsumed(ctx context.Context, h timelock.ActionHash) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return fmt.Errorf("journal unavailable")
	}
	delete(j.pending, h)
	return nil
}
