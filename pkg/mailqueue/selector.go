package mailqueue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// Criteria parameterizes one selection. Every decision is re-derived from
// persisted state and these values; nothing is remembered between cycles.
type Criteria struct {
	Now          time.Time
	MinAge       time.Duration
	RetryCeiling int
	BatchSize    int
}

// Validate checks that the criteria can select anything at all.
func (c Criteria) Validate() error {
	switch {
	case c.Now.IsZero():
		return fmt.Errorf("%w: now is required", ErrInvalidCriteria)
	case c.MinAge < 0:
		return fmt.Errorf("%w: min age must not be negative", ErrInvalidCriteria)
	case c.RetryCeiling <= 0:
		return fmt.Errorf("%w: retry ceiling must be positive", ErrInvalidCriteria)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidCriteria)
	}
	return nil
}

// Cutoff is the newest created_at that is old enough to be dispatched.
func (c Criteria) Cutoff() time.Time {
	return c.Now.Add(-c.MinAge)
}

// Eligible is the selection predicate shared by all storage backends:
// pending, at least MinAge old, under the retry ceiling, past its retry
// backoff (if any) and not leased by an in-flight dispatch.
func (c Criteria) Eligible(m *Message) bool {
	if m == nil || m.Status != StatusPending {
		return false
	}
	if c.Now.Sub(m.CreatedAt) < c.MinAge {
		return false
	}
	if m.Attempts >= c.RetryCeiling {
		return false
	}
	if m.NextAttemptAt != nil && m.NextAttemptAt.After(c.Now) {
		return false
	}
	return !m.Leased(c.Now)
}

// Select returns the eligible messages for c, oldest first, at most c.BatchSize.
func Select(ctx context.Context, repo SelectorRepository, c Criteria) ([]*Message, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	msgs, err := repo.SelectEligible(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible messages: %w", err)
	}
	return msgs, nil
}

// SortFIFO orders messages by created_at, breaking ties by id so that
// the order is stable across backends.
func SortFIFO(msgs []*Message) {
	slices.SortFunc(msgs, func(a, b *Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}
