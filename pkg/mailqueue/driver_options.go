package mailqueue

import (
	"context"
	"log/slog"
	"time"
)

// DriverOption is a functional option for configuring a Driver
type DriverOption func(*driverOptions)

type driverOptions struct {
	pollInterval time.Duration
	minAge       time.Duration
	retryCeiling int
	batchSize    int
	now          func() time.Time
	isLeader     func(context.Context) bool
	logger       *slog.Logger
}

// WithPollInterval sets how often the background loop runs a cycle
func WithPollInterval(d time.Duration) DriverOption {
	return func(o *driverOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMinAge sets how old a message must be before its first dispatch.
// It keeps the driver from racing the producer that just wrote the message.
func WithMinAge(d time.Duration) DriverOption {
	return func(o *driverOptions) {
		if d >= 0 {
			o.minAge = d
		}
	}
}

// WithRetryCeiling overrides the selection ceiling (defaults to the dispatcher policy's)
func WithRetryCeiling(n int) DriverOption {
	return func(o *driverOptions) {
		if n > 0 {
			o.retryCeiling = n
		}
	}
}

// WithBatchSize caps the number of messages dispatched per cycle
func WithBatchSize(n int) DriverOption {
	return func(o *driverOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithClock overrides the time source used by RunOnce and the background loop
func WithClock(now func() time.Time) DriverOption {
	return func(o *driverOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLeaderCheck gates background cycles on fn. On-demand cycles are not gated.
func WithLeaderCheck(fn func(context.Context) bool) DriverOption {
	return func(o *driverOptions) {
		o.isLeader = fn
	}
}

// WithDriverLogger sets the logger for the driver
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(o *driverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
