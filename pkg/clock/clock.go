// Package clock provides the authority time source for the timelock.
//
// The state machine never reads the wall clock directly. Every operation
// takes its notion of "now" from an injected Clock so the embedding system
// can supply a trusted or externally-ordered timestamp.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current authority time.
type Clock interface {
	Now() time.Time
}

// Wall reads the process wall clock. Default outside tests.
type Wall struct{}

func (Wall) Now() time.Time { return time.Now() }

// Manual is a hand-advanced clock for tests and deterministic replay.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
