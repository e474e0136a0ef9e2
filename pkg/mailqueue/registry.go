package mailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Transport delivers one message payload. The queue treats it as a black box:
// any returned error is a failed attempt.
type Transport interface {
	Deliver(ctx context.Context, payload json.RawMessage) error
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, payload json.RawMessage) error

// Deliver implements Transport.
func (f TransportFunc) Deliver(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// NewTransport builds a Transport that decodes the payload into T first.
// A payload that does not decode is a failed attempt like any other.
func NewTransport[T any](fn func(ctx context.Context, payload T) error) Transport {
	return TransportFunc(func(ctx context.Context, raw json.RawMessage) error {
		var p T
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("failed to decode payload into %T: %w", p, err)
		}
		return fn(ctx, p)
	})
}

// Registry maps message kinds to transports. It is populated at startup;
// the dispatcher only reads from it.
type Registry struct {
	mu         sync.RWMutex
	transports map[Kind]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[Kind]Transport)}
}

// Register binds a transport to a kind.
func (r *Registry) Register(kind Kind, t Transport) error {
	if kind == "" {
		return ErrEmptyKind
	}
	if t == nil {
		return ErrTransportNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[kind]; exists {
		return fmt.Errorf("%w: %q", ErrKindAlreadyRegistered, kind)
	}
	r.transports[kind] = t
	return nil
}

// MustRegister is Register that panics, for wiring at startup.
func (r *Registry) MustRegister(kind Kind, t Transport) {
	if err := r.Register(kind, t); err != nil {
		panic(err)
	}
}

// Lookup returns the transport for kind.
func (r *Registry) Lookup(kind Kind) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[kind]
	return t, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.transports))
	for k := range r.transports {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
