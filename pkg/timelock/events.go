package timelock

import (
	"context"
	"time"
)

// Notification is a committed state-change record. Notifications carry the
// exact field sets external indexers rely on; they are emitted in commit
// order, after the state transition they describe.
type Notification interface {
	// EventName is the stable notification name ("NewDelay",
	// "QueueTransaction", ...).
	EventName() string
}

// Sink receives notifications as they are committed. Emission happens
// inside the timelock's critical section, so sinks observe notifications
// in exact commit order; slow sinks slow the state machine down and should
// hand off internally. Sinks must not call back into the timelock.
type Sink interface {
	Emit(ctx context.Context, n Notification)
}

// NewAdmin fires when an admin handoff is accepted.
type NewAdmin struct {
	NewAdmin string `json:"newAdmin"`
}

func (NewAdmin) EventName() string { return "NewAdmin" }

// NewPendingAdmin fires when a successor admin is proposed (or a proposal
// is cleared by setting the empty identity).
type NewPendingAdmin struct {
	NewPendingAdmin string `json:"newPendingAdmin"`
}

func (NewPendingAdmin) EventName() string { return "NewPendingAdmin" }

// NewDelay fires when the minimum delay changes.
type NewDelay struct {
	NewDelay time.Duration `json:"newDelay"`
}

func (NewDelay) EventName() string { return "NewDelay" }

// QueueTransaction fires when an action is queued.
type QueueTransaction struct {
	TxHash ActionHash `json:"txHash"`
	Action
}

func (QueueTransaction) EventName() string { return "QueueTransaction" }

// CancelTransaction fires when an action is cancelled, regardless of
// whether the hash was pending beforehand.
type CancelTransaction struct {
	TxHash ActionHash `json:"txHash"`
	Action
}

func (CancelTransaction) EventName() string { return "CancelTransaction" }

// ExecuteTransaction fires when an action executes successfully.
type ExecuteTransaction struct {
	TxHash ActionHash `json:"txHash"`
	Action
}

func (ExecuteTransaction) EventName() string { return "ExecuteTransaction" }
