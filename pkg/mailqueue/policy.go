package mailqueue

import (
	"fmt"
	"time"
)

// BackoffStrategy selects how long a failed message waits before it is eligible again.
type BackoffStrategy string

const (
	// BackoffNone makes a failed message eligible on the very next cycle.
	// MinAge is measured from created_at, so it does not delay retries.
	BackoffNone BackoffStrategy = "none"

	// BackoffExponential delays the next attempt by Base * 2^(attempts-1),
	// capped at Max, measured from the failed attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy decides whether and when a failed message is attempted again.
type RetryPolicy struct {
	RetryCeiling int
	Strategy     BackoffStrategy
	Base         time.Duration
	Max          time.Duration
}

// DefaultRetryPolicy retries on every cycle up to five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryCeiling: 5,
		Strategy:     BackoffNone,
		Base:         time.Minute,
		Max:          time.Hour,
	}
}

// Validate checks the policy for values that would break the ceiling contract.
func (p RetryPolicy) Validate() error {
	if p.RetryCeiling <= 0 {
		return fmt.Errorf("%w: retry ceiling must be positive", ErrInvalidConfig)
	}
	switch p.Strategy {
	case "", BackoffNone:
	case BackoffExponential:
		if p.Base <= 0 {
			return fmt.Errorf("%w: exponential backoff requires a positive base", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backoff strategy %q", ErrInvalidConfig, p.Strategy)
	}
	return nil
}

// Exhausted reports whether a message with the given attempts will never be selected again.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.RetryCeiling
}

// Delay returns the wait after the given (already incremented) attempt count.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Strategy != BackoffExponential || attempts < 1 {
		return 0
	}

	// Shift is bounded so the multiplication cannot overflow before the cap applies.
	shift := min(attempts-1, 30)
	delay := p.Base << shift
	if p.Max > 0 && (delay > p.Max || delay <= 0) {
		delay = p.Max
	}
	return delay
}

// NextAttemptAt returns when a message that just failed at failedAt becomes
// eligible again, or nil when no backoff applies.
func (p RetryPolicy) NextAttemptAt(failedAt time.Time, attempts int) *time.Time {
	d := p.Delay(attempts)
	if d <= 0 {
		return nil
	}
	next := failedAt.Add(d)
	return &next
}
