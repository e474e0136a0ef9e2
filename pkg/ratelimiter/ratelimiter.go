package ratelimiter

import (
	"context"
	"fmt"
	"time"
)

// Config defines the token bucket. A zero Capacity disables limiting.
type Config struct {
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"0"`          // burst size
	RefillRate     int           `env:"RATE_LIMIT_REFILL_RATE" envDefault:"1"`       // tokens added per interval
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"10s"` // how often tokens are added
}

// Enabled reports whether the config asks for limiting at all.
func (c Config) Enabled() bool {
	return c.Capacity > 0
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// fullRefill is how long an idle bucket takes to refill completely.
func (c Config) fullRefill() time.Duration {
	return time.Duration(c.Capacity/c.RefillRate+1) * c.RefillInterval
}

// Result is the outcome of a single check.
type Result struct {
	Limit     int       // bucket capacity
	Remaining int       // tokens left; negative when denied
	ResetAt   time.Time // next refill
}

// Allowed reports whether the tokens were granted.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next attempt,
// or 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(0, time.Until(r.ResetAt))
}

// Limiter is a token bucket rate limiter over a Store.
type Limiter struct {
	store  Store
	config Config
}

// New creates a limiter. The config must have positive values.
func New(store Store, config Config) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Limiter{store: store, config: config}, nil
}

// Allow takes one token for key.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN takes n tokens for key. A denied request consumes nothing.
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	return l.consume(ctx, key, n)
}

// Status returns the current state without consuming tokens.
func (l *Limiter) Status(ctx context.Context, key string) (*Result, error) {
	return l.consume(ctx, key, 0)
}

// Reset forgets the state of key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

func (l *Limiter) consume(ctx context.Context, key string, n int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	remaining, resetAt, err := l.store.ConsumeTokens(ctx, key, n, l.config)
	if err != nil {
		return nil, err
	}
	return &Result{
		Limit:     l.config.Capacity,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
