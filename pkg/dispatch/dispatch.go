// Package dispatch routes encoded call payloads to in-process targets.
package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a dispatched call for one target. The payload is either
// a raw byte payload or a four-byte selector followed by encoded
// arguments; the handler owns the decoding.
type Handler func(ctx context.Context, value uint64, payload []byte) ([]byte, error)

// Registry is an in-process dispatcher mapping target identifiers to
// handlers. It satisfies the authorizer's Dispatcher interface.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a target identifier. Re-registering a target
// replaces its handler.
func (r *Registry) Register(target string, h Handler) error {
	if target == "" {
		return fmt.Errorf("dispatch: empty target")
	}
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %q", target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[target] = h
	return nil
}

// Dispatch routes the payload to the target's handler. An unknown target
// is a call failure (the callers treat it as a reverted inner call).
func (r *Registry) Dispatch(ctx context.Context, target string, value uint64, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h, ok := r.handlers[target]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("dispatch: unknown target %q", target)
	}
	return h(ctx, value, payload)
}
