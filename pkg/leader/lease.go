package leader

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/mailqueue/pkg/logger"
)

var (
	ErrClientNil  = errors.New("leader: redis client is nil")
	ErrInvalidTTL = errors.New("leader: ttl must be positive")
)

// renewScript extends the lease only while it is still held by ARGV[1].
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a Redis-backed leadership lease. Each IsLeader call renews the
// lease when held or tries to take it when free.
type Lease struct {
	client   redis.UniversalClient
	key      string
	id       string
	ttl      time.Duration
	failOpen bool
	logger   *slog.Logger
	held     atomic.Bool
}

// Option configures a Lease.
type Option func(*Lease)

// WithKey sets the Redis key holding the lease.
func WithKey(key string) Option {
	return func(l *Lease) {
		if key != "" {
			l.key = key
		}
	}
}

// WithTTL sets how long the lease survives without renewal. It should be
// longer than the polling interval of the gated loop.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lease) {
		l.ttl = ttl
	}
}

// WithFailClosed makes IsLeader report false when Redis is unreachable.
// By default the check fails open and every replica keeps dispatching.
func WithFailClosed() Option {
	return func(l *Lease) {
		l.failOpen = false
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Lease) {
		if log != nil {
			l.logger = log
		}
	}
}

// New creates a lease with a random holder id.
func New(client redis.UniversalClient, opts ...Option) (*Lease, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	l := &Lease{
		client:   client,
		key:      "mailqueue:leader",
		id:       uuid.NewString(),
		ttl:      3 * time.Minute,
		failOpen: true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return l, nil
}

// ID returns the holder id written to the lease key.
func (l *Lease) ID() string {
	return l.id
}

// IsLeader reports whether this process holds the lease after renewing or
// acquiring it. Its signature matches mailqueue.WithLeaderCheck.
func (l *Lease) IsLeader(ctx context.Context) bool {
	ok, err := l.tryAcquire(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "leader lease check failed",
			slog.String("key", l.key),
			slog.Bool("fail_open", l.failOpen),
			logger.Error(err),
		)
		return l.failOpen
	}

	if was := l.held.Swap(ok); was != ok {
		l.logger.InfoContext(ctx, "leadership changed",
			slog.String("key", l.key),
			slog.Bool("leader", ok),
		)
	}
	return ok
}

func (l *Lease) tryAcquire(ctx context.Context) (bool, error) {
	ttl := l.ttl.Milliseconds()

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.id, ttl).Int()
	if err != nil {
		return false, err
	}
	if renewed == 1 {
		return true, nil
	}

	return l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
}

// Release gives up the lease if this process holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.id).Err(); err != nil {
		return err
	}
	l.held.Store(false)
	return nil
}
