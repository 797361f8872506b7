package timelock

import (
	"errors"
	"fmt"
)

// Every failure aborts the whole operation with no partial mutation.
var (
	// ErrUnauthorized reports a caller identity that does not match the
	// operation's required principal.
	ErrUnauthorized = errors.New("timelock: unauthorized caller")

	// ErrInvalidDelay reports a proposed delay outside
	// [MinimumDelay, MaximumDelay].
	ErrInvalidDelay = errors.New("timelock: delay outside configured bounds")

	// ErrInsufficientDelay reports an eta that does not satisfy now + delay.
	ErrInsufficientDelay = errors.New("timelock: eta must satisfy the minimum delay")

	// ErrNotQueued reports an action hash that is not currently pending:
	// never queued, already executed, or already cancelled.
	ErrNotQueued = errors.New("timelock: action is not queued")

	// ErrTooEarly reports an execution attempt before the action's eta.
	ErrTooEarly = errors.New("timelock: action has not surpassed its eta")

	// ErrExpired reports an execution attempt at or past eta + GracePeriod.
	ErrExpired = errors.New("timelock: action is stale")
)

// CallRevertedError reports that the dispatched inner call failed. The
// timelock's own state is unchanged: the queued flag is not consumed.
type CallRevertedError struct {
	Hash ActionHash
	Err  error
}

func (e *CallRevertedError) Error() string {
	return fmt.Sprintf("timelock: dispatched call for %s reverted: %v", e.Hash, e.Err)
}

func (e *CallRevertedError) Unwrap() error { return e.Err }
