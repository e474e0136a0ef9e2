package mailqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new messages.
type EnqueuerRepository interface {
	CreateMessage(ctx context.Context, msg *Message) error
}

// SelectorRepository returns the eligible subset of pending messages,
// oldest first, capped at Criteria.BatchSize.
// Implementations must apply exactly Criteria.Eligible.
type SelectorRepository interface {
	SelectEligible(ctx context.Context, c Criteria) ([]*Message, error)
}

// DispatcherRepository holds the per-message claim and the two state transitions.
type DispatcherRepository interface {
	// ClaimMessage atomically leases a message for workerID. It succeeds only if the
	// message is still pending, its attempts equal expectedAttempts and no other
	// lease is active at now. Otherwise it returns ErrNotClaimed.
	ClaimMessage(ctx context.Context, id uuid.UUID, expectedAttempts int, workerID uuid.UUID, now time.Time, lease time.Duration) (*Message, error)

	// MarkSent sets status=sent and sent_at in one update, only for the lease holder.
	MarkSent(ctx context.Context, id uuid.UUID, workerID uuid.UUID, sentAt time.Time) error

	// MarkFailed increments attempts and records the failure in one update,
	// only for the lease holder. Status stays pending.
	MarkFailed(ctx context.Context, f Failure) error
}

// StatsRepository reports queue counters for operators.
type StatsRepository interface {
	Stats(ctx context.Context, retryCeiling int) (Stats, error)
}

// Repository is the full storage contract implemented by every backend.
type Repository interface {
	EnqueuerRepository
	SelectorRepository
	DispatcherRepository
	StatsRepository

	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
}
