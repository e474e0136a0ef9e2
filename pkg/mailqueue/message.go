package mailqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind selects the transport that delivers a message. The set is open:
// adding a kind means registering a transport for it.
type Kind string

// Status represents the delivery status of a message
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// Message is the persisted unit of work.
//
// Failed attempts leave the message pending with Attempts incremented. Once
// Attempts reaches the retry ceiling the message stays pending and is no longer
// selected; there is no separate terminal failure state.
type Message struct {
	ID           uuid.UUID       `json:"id"`
	RecipientRef string          `json:"recipient_ref"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`

	// Bookkeeping for operators and the retry policy.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`

	// Claim lease held by the dispatcher currently delivering the message.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
}

// IsSent reports whether the message reached its terminal state.
func (m *Message) IsSent() bool {
	return m.Status == StatusSent
}

// Exhausted reports whether the message hit the retry ceiling without being sent.
func (m *Message) Exhausted(retryCeiling int) bool {
	return m.Status == StatusPending && m.Attempts >= retryCeiling
}

// Leased reports whether another dispatcher holds an unexpired claim at now.
func (m *Message) Leased(now time.Time) bool {
	return m.LockedUntil != nil && m.LockedUntil.After(now)
}

// Clone returns a deep copy so storage implementations never share
// mutable state with callers.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	c.SentAt = cloneTime(m.SentAt)
	c.LastAttemptAt = cloneTime(m.LastAttemptAt)
	c.NextAttemptAt = cloneTime(m.NextAttemptAt)
	c.LockedUntil = cloneTime(m.LockedUntil)
	if m.LastError != nil {
		s := *m.LastError
		c.LastError = &s
	}
	if m.LockedBy != nil {
		id := *m.LockedBy
		c.LockedBy = &id
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Failure describes one failed delivery attempt to be recorded by storage.
type Failure struct {
	MessageID     uuid.UUID
	WorkerID      uuid.UUID
	AttemptedAt   time.Time
	NextAttemptAt *time.Time
	Error         string

	// HoldLeaseUntil keeps the holder's lease in place until the given time
	// instead of releasing it. Set when the transport call may still be running.
	HoldLeaseUntil *time.Time
}

// Stats is an operator view of the queue.
type Stats struct {
	// Pending counts messages that are still eligible for future cycles.
	Pending int64 `json:"pending"`
	// Sent counts delivered messages.
	Sent int64 `json:"sent"`
	// Exhausted counts pending messages at or above the retry ceiling.
	// They are never selected again unless an operator intervenes.
	Exhausted int64 `json:"exhausted"`
}
