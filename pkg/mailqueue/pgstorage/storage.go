// Package pgstorage implements mailqueue.Repository on PostgreSQL.
//
// The schema lives in internal/db/migrations. Claims and transitions are single
// conditional UPDATE statements, so any number of dispatchers can share the table.
package pgstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
	"github.com/dmitrymomot/mailqueue/pkg/pg"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx. Passing a
// transaction lets a producer enqueue atomically with its own writes.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage is the PostgreSQL message store.
type Storage struct {
	db Querier
}

var _ mailqueue.Repository = (*Storage)(nil)

// New creates a storage over db.
func New(db Querier) *Storage {
	return &Storage{db: db}
}

// WithTx returns a storage bound to tx.
func (s *Storage) WithTx(tx pgx.Tx) *Storage {
	return &Storage{db: tx}
}

const messageColumns = `id, recipient_ref, kind, payload, status, attempts, created_at, sent_at,
	last_attempt_at, next_attempt_at, last_error, locked_until, locked_by`

const insertMessage = `INSERT INTO pending_messages (id, recipient_ref, kind, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// CreateMessage implements mailqueue.EnqueuerRepository
func (s *Storage) CreateMessage(ctx context.Context, msg *mailqueue.Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}

	_, err := s.db.Exec(ctx, insertMessage,
		msg.ID, msg.RecipientRef, string(msg.Kind), []byte(msg.Payload),
		string(msg.Status), msg.Attempts, msg.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", mailqueue.ErrDuplicateMessage, msg.ID)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

const getMessage = `SELECT ` + messageColumns + ` FROM pending_messages WHERE id = $1`

// GetMessage returns a single message by id
func (s *Storage) GetMessage(ctx context.Context, id uuid.UUID) (*mailqueue.Message, error) {
	msg, err := scanMessage(s.db.QueryRow(ctx, getMessage, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, mailqueue.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// The id tie-break matches mailqueue.SortFIFO: uuid byte order equals the
// order of their canonical string form.
const selectEligible = `SELECT ` + messageColumns + `
FROM pending_messages
WHERE status = 'pending'
  AND created_at <= $1
  AND attempts < $2
  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
  AND (locked_until IS NULL OR locked_until <= $3)
ORDER BY created_at, id
LIMIT $4`

// SelectEligible implements mailqueue.SelectorRepository
func (s *Storage) SelectEligible(ctx context.Context, c mailqueue.Criteria) ([]*mailqueue.Message, error) {
	rows, err := s.db.Query(ctx, selectEligible, c.Cutoff(), c.RetryCeiling, c.Now, c.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible messages: %w", err)
	}
	defer rows.Close()

	var msgs []*mailqueue.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate eligible messages: %w", err)
	}
	return msgs, nil
}

const claimMessage = `UPDATE pending_messages
SET locked_until = $4, locked_by = $3
WHERE id = $1
  AND status = 'pending'
  AND attempts = $2
  AND (locked_until IS NULL OR locked_until <= $5)
RETURNING ` + messageColumns

// ClaimMessage implements mailqueue.DispatcherRepository
func (s *Storage) ClaimMessage(ctx context.Context, id uuid.UUID, expectedAttempts int, workerID uuid.UUID, now time.Time, lease time.Duration) (*mailqueue.Message, error) {
	msg, err := scanMessage(s.db.QueryRow(ctx, claimMessage, id, expectedAttempts, workerID, now.Add(lease), now))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, s.missOrNotClaimed(ctx, id)
		}
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}
	return msg, nil
}

const markSent = `UPDATE pending_messages
SET status = 'sent', sent_at = $3, locked_until = NULL, locked_by = NULL
WHERE id = $1 AND status = 'pending' AND locked_by = $2`

// MarkSent implements mailqueue.DispatcherRepository
func (s *Storage) MarkSent(ctx context.Context, id uuid.UUID, workerID uuid.UUID, sentAt time.Time) error {
	tag, err := s.db.Exec(ctx, markSent, id, workerID, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark message as sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrNotClaimed(ctx, id)
	}
	return nil
}

const markFailed = `UPDATE pending_messages
SET attempts = attempts + 1,
    last_attempt_at = $3,
    next_attempt_at = $4,
    last_error = $5,
    locked_until = $6,
    locked_by = CASE WHEN $6::timestamptz IS NULL THEN NULL ELSE locked_by END
WHERE id = $1 AND status = 'pending' AND locked_by = $2`

// MarkFailed implements mailqueue.DispatcherRepository
func (s *Storage) MarkFailed(ctx context.Context, f mailqueue.Failure) error {
	tag, err := s.db.Exec(ctx, markFailed, f.MessageID, f.WorkerID, f.AttemptedAt, f.NextAttemptAt, f.Error, f.HoldLeaseUntil)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrNotClaimed(ctx, f.MessageID)
	}
	return nil
}

const stats = `SELECT
	count(*) FILTER (WHERE status = 'pending' AND attempts < $1),
	count(*) FILTER (WHERE status = 'sent'),
	count(*) FILTER (WHERE status = 'pending' AND attempts >= $1)
FROM pending_messages`

// Stats implements mailqueue.StatsRepository
func (s *Storage) Stats(ctx context.Context, retryCeiling int) (mailqueue.Stats, error) {
	var st mailqueue.Stats
	if err := s.db.QueryRow(ctx, stats, retryCeiling).Scan(&st.Pending, &st.Sent, &st.Exhausted); err != nil {
		return mailqueue.Stats{}, fmt.Errorf("failed to count messages: %w", err)
	}
	return st, nil
}

const messageExists = `SELECT EXISTS (SELECT 1 FROM pending_messages WHERE id = $1)`

// missOrNotClaimed tells a lost race from a missing row after a conditional update matched nothing.
func (s *Storage) missOrNotClaimed(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRow(ctx, messageExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check message existence: %w", err)
	}
	if !exists {
		return mailqueue.ErrMessageNotFound
	}
	return mailqueue.ErrNotClaimed
}

func scanMessage(row pgx.Row) (*mailqueue.Message, error) {
	var (
		msg     mailqueue.Message
		kind    string
		status  string
		payload []byte
	)
	err := row.Scan(
		&msg.ID, &msg.RecipientRef, &kind, &payload, &status, &msg.Attempts, &msg.CreatedAt, &msg.SentAt,
		&msg.LastAttemptAt, &msg.NextAttemptAt, &msg.LastError, &msg.LockedUntil, &msg.LockedBy,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = mailqueue.Kind(kind)
	msg.Status = mailqueue.Status(status)
	msg.Payload = payload
	return &msg, nil
}
