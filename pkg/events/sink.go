// Package events provides notification sinks for the authorizer: an
// append-only hash-chained log, a Redis pub/sub publisher for external
// indexers, and an audit-trail adapter.
package events

import (
	"context"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// Multi fans a notification out to every sink in order. Sinks are
// best-effort individually; one sink's failure does not stop the others.
type Multi []timelock.Sink

func (m Multi) Emit(ctx context.Context, n timelock.Notification) {
	for _, s := range m {
		s.Emit(ctx, n)
	}
}
