// Package mongostorage implements mailqueue.Repository on a MongoDB collection.
//
// Each claim and transition is a single-document conditional update, which
// MongoDB applies atomically.
package mongostorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

// DefaultCollection is the collection name used by the service.
const DefaultCollection = "pending_messages"

// Storage is the MongoDB message store.
type Storage struct {
	coll *mongo.Collection
}

var _ mailqueue.Repository = (*Storage)(nil)

// New creates a storage over coll.
func New(coll *mongo.Collection) *Storage {
	return &Storage{coll: coll}
}

// EnsureIndexes creates the (status, created_at) index used by selection.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("status_created_at"),
	})
	if err != nil {
		return fmt.Errorf("failed to create selection index: %w", err)
	}
	return nil
}

// document is the stored shape. The id is kept as its string form so the
// (created_at, _id) sort matches mailqueue.SortFIFO.
type document struct {
	ID            string     `bson:"_id"`
	RecipientRef  string     `bson:"recipient_ref"`
	Kind          string     `bson:"kind"`
	Payload       string     `bson:"payload"`
	Status        string     `bson:"status"`
	Attempts      int        `bson:"attempts"`
	CreatedAt     time.Time  `bson:"created_at"`
	SentAt        *time.Time `bson:"sent_at,omitempty"`
	LastAttemptAt *time.Time `bson:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `bson:"next_attempt_at,omitempty"`
	LastError     *string    `bson:"last_error,omitempty"`
	LockedUntil   *time.Time `bson:"locked_until,omitempty"`
	LockedBy      *string    `bson:"locked_by,omitempty"`
}

func toDocument(m *mailqueue.Message) document {
	d := document{
		ID:            m.ID.String(),
		RecipientRef:  m.RecipientRef,
		Kind:          string(m.Kind),
		Payload:       string(m.Payload),
		Status:        string(m.Status),
		Attempts:      m.Attempts,
		CreatedAt:     ceilMillis(m.CreatedAt.UTC()),
		SentAt:        m.SentAt,
		LastAttemptAt: m.LastAttemptAt,
		NextAttemptAt: ceilMillisPtr(m.NextAttemptAt),
		LastError:     m.LastError,
		LockedUntil:   m.LockedUntil,
	}
	if m.LockedBy != nil {
		s := m.LockedBy.String()
		d.LockedBy = &s
	}
	return d
}

// ceilMillis rounds t up to BSON datetime precision. Rounding down would let
// a message pass its minimum age or backoff up to a millisecond early.
func ceilMillis(t time.Time) time.Time {
	r := t.Truncate(time.Millisecond)
	if r.Before(t) {
		r = r.Add(time.Millisecond)
	}
	return r
}

func ceilMillisPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	r := ceilMillis(*t)
	return &r
}

func (d document) message() (*mailqueue.Message, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", d.ID, err)
	}
	m := &mailqueue.Message{
		ID:            id,
		RecipientRef:  d.RecipientRef,
		Kind:          mailqueue.Kind(d.Kind),
		Payload:       []byte(d.Payload),
		Status:        mailqueue.Status(d.Status),
		Attempts:      d.Attempts,
		CreatedAt:     d.CreatedAt,
		SentAt:        d.SentAt,
		LastAttemptAt: d.LastAttemptAt,
		NextAttemptAt: d.NextAttemptAt,
		LastError:     d.LastError,
		LockedUntil:   d.LockedUntil,
	}
	if d.LockedBy != nil {
		worker, err := uuid.Parse(*d.LockedBy)
		if err != nil {
			return nil, fmt.Errorf("invalid lock holder %q: %w", *d.LockedBy, err)
		}
		m.LockedBy = &worker
	}
	return m, nil
}

// leaseFree matches documents without an active lease at now.
// A null query value also matches a missing field.
func leaseFree(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "locked_until", Value: nil}},
		bson.D{{Key: "locked_until", Value: bson.D{{Key: "$lte", Value: now}}}},
	}}}
}

// CreateMessage implements mailqueue.EnqueuerRepository
func (s *Storage) CreateMessage(ctx context.Context, msg *mailqueue.Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	if _, err := s.coll.InsertOne(ctx, toDocument(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", mailqueue.ErrDuplicateMessage, msg.ID)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage returns a single message by id
func (s *Storage) GetMessage(ctx context.Context, id uuid.UUID) (*mailqueue.Message, error) {
	var d document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mailqueue.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return d.message()
}

// SelectEligible implements mailqueue.SelectorRepository
func (s *Storage) SelectEligible(ctx context.Context, c mailqueue.Criteria) ([]*mailqueue.Message, error) {
	filter := bson.D{
		{Key: "status", Value: string(mailqueue.StatusPending)},
		{Key: "created_at", Value: bson.D{{Key: "$lte", Value: c.Cutoff()}}},
		{Key: "attempts", Value: bson.D{{Key: "$lt", Value: c.RetryCeiling}}},
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "next_attempt_at", Value: nil}},
				bson.D{{Key: "next_attempt_at", Value: bson.D{{Key: "$lte", Value: c.Now}}}},
			}}},
			leaseFree(c.Now),
		}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(c.BatchSize))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible messages: %w", err)
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode eligible messages: %w", err)
	}

	msgs := make([]*mailqueue.Message, 0, len(docs))
	for _, d := range docs {
		m, err := d.message()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ClaimMessage implements mailqueue.DispatcherRepository
func (s *Storage) ClaimMessage(ctx context.Context, id uuid.UUID, expectedAttempts int, workerID uuid.UUID, now time.Time, lease time.Duration) (*mailqueue.Message, error) {
	filter := bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "status", Value: string(mailqueue.StatusPending)},
		{Key: "attempts", Value: expectedAttempts},
		{Key: "$and", Value: bson.A{leaseFree(now)}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "locked_until", Value: now.Add(lease)},
		{Key: "locked_by", Value: workerID.String()},
	}}}

	var d document
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.missOrNotClaimed(ctx, id)
		}
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}
	return d.message()
}

func heldBy(id, workerID uuid.UUID) bson.D {
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "status", Value: string(mailqueue.StatusPending)},
		{Key: "locked_by", Value: workerID.String()},
	}
}

var releaseLease = bson.D{{Key: "locked_until", Value: ""}, {Key: "locked_by", Value: ""}}

// MarkSent implements mailqueue.DispatcherRepository
func (s *Storage) MarkSent(ctx context.Context, id uuid.UUID, workerID uuid.UUID, sentAt time.Time) error {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(mailqueue.StatusSent)},
			{Key: "sent_at", Value: sentAt},
		}},
		{Key: "$unset", Value: releaseLease},
	}
	res, err := s.coll.UpdateOne(ctx, heldBy(id, workerID), update)
	if err != nil {
		return fmt.Errorf("failed to mark message as sent: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missOrNotClaimed(ctx, id)
	}
	return nil
}

// MarkFailed implements mailqueue.DispatcherRepository
func (s *Storage) MarkFailed(ctx context.Context, f mailqueue.Failure) error {
	set := bson.D{
		{Key: "last_attempt_at", Value: f.AttemptedAt},
		{Key: "last_error", Value: f.Error},
	}
	unset := bson.D{}
	if f.NextAttemptAt != nil {
		set = append(set, bson.E{Key: "next_attempt_at", Value: ceilMillis(*f.NextAttemptAt)})
	} else {
		unset = append(unset, bson.E{Key: "next_attempt_at", Value: ""})
	}
	if f.HoldLeaseUntil != nil {
		set = append(set, bson.E{Key: "locked_until", Value: ceilMillis(*f.HoldLeaseUntil)})
	} else {
		unset = append(unset, releaseLease...)
	}

	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
		{Key: "$set", Value: set},
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	res, err := s.coll.UpdateOne(ctx, heldBy(f.MessageID, f.WorkerID), update)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missOrNotClaimed(ctx, f.MessageID)
	}
	return nil
}

// Stats implements mailqueue.StatsRepository
func (s *Storage) Stats(ctx context.Context, retryCeiling int) (mailqueue.Stats, error) {
	pending := string(mailqueue.StatusPending)
	filters := []bson.D{
		{{Key: "status", Value: pending}, {Key: "attempts", Value: bson.D{{Key: "$lt", Value: retryCeiling}}}},
		{{Key: "status", Value: string(mailqueue.StatusSent)}},
		{{Key: "status", Value: pending}, {Key: "attempts", Value: bson.D{{Key: "$gte", Value: retryCeiling}}}},
	}

	counts := make([]int64, len(filters))
	for i, f := range filters {
		n, err := s.coll.CountDocuments(ctx, f)
		if err != nil {
			return mailqueue.Stats{}, fmt.Errorf("failed to count messages: %w", err)
		}
		counts[i] = n
	}
	return mailqueue.Stats{Pending: counts[0], Sent: counts[1], Exhausted: counts[2]}, nil
}

func (s *Storage) missOrNotClaimed(ctx context.Context, id uuid.UUID) error {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id.String()}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check message existence: %w", err)
	}
	if n == 0 {
		return mailqueue.ErrMessageNotFound
	}
	return mailqueue.ErrNotClaimed
}
