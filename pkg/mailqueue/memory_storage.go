package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Repository for tests and local development.
// Every read returns a copy, so callers cannot mutate stored messages.
type MemoryStorage struct {
	mu       sync.RWMutex
	messages map[uuid.UUID]*Message
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[uuid.UUID]*Message),
	}
}

// CreateMessage implements EnqueuerRepository
func (ms *MemoryStorage) CreateMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.ID)
	}
	ms.messages[msg.ID] = msg.Clone()

	return nil
}

// GetMessage returns a copy of the stored message
func (ms *MemoryStorage) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// SelectEligible implements SelectorRepository
func (ms *MemoryStorage) SelectEligible(ctx context.Context, c Criteria) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	var result []*Message
	for _, msg := range ms.messages {
		if c.Eligible(msg) {
			result = append(result, msg.Clone())
		}
	}
	ms.mu.RUnlock()

	SortFIFO(result)
	if len(result) > c.BatchSize {
		result = result[:c.BatchSize]
	}
	return result, nil
}

// ClaimMessage implements DispatcherRepository
func (ms *MemoryStorage) ClaimMessage(ctx context.Context, id uuid.UUID, expectedAttempts int, workerID uuid.UUID, now time.Time, lease time.Duration) (*Message, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Status != StatusPending || msg.Attempts != expectedAttempts || msg.Leased(now) {
		return nil, ErrNotClaimed
	}

	until := now.Add(lease)
	msg.LockedUntil = &until
	msg.LockedBy = &workerID

	return msg.Clone(), nil
}

// MarkSent implements DispatcherRepository
func (ms *MemoryStorage) MarkSent(ctx context.Context, id uuid.UUID, workerID uuid.UUID, sentAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, err := ms.heldBy(id, workerID)
	if err != nil {
		return err
	}

	msg.Status = StatusSent
	msg.SentAt = &sentAt
	msg.LockedUntil = nil
	msg.LockedBy = nil

	return nil
}

// MarkFailed implements DispatcherRepository
func (ms *MemoryStorage) MarkFailed(ctx context.Context, f Failure) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, err := ms.heldBy(f.MessageID, f.WorkerID)
	if err != nil {
		return err
	}

	attemptedAt := f.AttemptedAt
	lastErr := f.Error
	msg.Attempts++
	msg.LastAttemptAt = &attemptedAt
	msg.NextAttemptAt = cloneTime(f.NextAttemptAt)
	msg.LastError = &lastErr
	if f.HoldLeaseUntil != nil {
		msg.LockedUntil = cloneTime(f.HoldLeaseUntil)
		return nil
	}
	msg.LockedUntil = nil
	msg.LockedBy = nil

	return nil
}

// Stats implements StatsRepository
func (ms *MemoryStorage) Stats(ctx context.Context, retryCeiling int) (Stats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var s Stats
	for _, msg := range ms.messages {
		switch {
		case msg.IsSent():
			s.Sent++
		case msg.Exhausted(retryCeiling):
			s.Exhausted++
		default:
			s.Pending++
		}
	}
	return s, nil
}

// heldBy returns the stored pending message if workerID holds its claim.
// The lease is not checked against the clock: a holder that overran its
// lease may still commit as long as nobody else has claimed the message.
func (ms *MemoryStorage) heldBy(id, workerID uuid.UUID) (*Message, error) {
	msg, ok := ms.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Status != StatusPending || msg.LockedBy == nil || *msg.LockedBy != workerID {
		return nil, ErrNotClaimed
	}
	return msg, nil
}
