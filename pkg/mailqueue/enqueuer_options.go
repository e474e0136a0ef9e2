package mailqueue

import (
	"log/slog"
	"time"
)

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
}

// WithKnownKinds rejects kinds that have no transport in r at enqueue time,
// instead of letting them fail on every dispatch attempt.
func WithKnownKinds(r *Registry) EnqueuerOption {
	return func(o *enqueuerOptions) {
		o.registry = r
	}
}

// WithEnqueuerClock overrides the clock used for created_at.
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEnqueuerLogger sets the logger for the enqueuer
func WithEnqueuerLogger(logger *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
