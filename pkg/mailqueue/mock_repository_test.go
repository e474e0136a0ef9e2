package mailqueue_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

var mockAny = mock.Anything

// MockRepository is a mock implementation of mailqueue.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateMessage(ctx context.Context, msg *mailqueue.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockRepository) GetMessage(ctx context.Context, id uuid.UUID) (*mailqueue.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mailqueue.Message), args.Error(1)
}

func (m *MockRepository) SelectEligible(ctx context.Context, c mailqueue.Criteria) ([]*mailqueue.Message, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mailqueue.Message), args.Error(1)
}

func (m *MockRepository) ClaimMessage(ctx context.Context, id uuid.UUID, expectedAttempts int, workerID uuid.UUID, now time.Time, lease time.Duration) (*mailqueue.Message, error) {
	args := m.Called(ctx, id, expectedAttempts, workerID, now, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mailqueue.Message), args.Error(1)
}

func (m *MockRepository) MarkSent(ctx context.Context, id uuid.UUID, workerID uuid.UUID, sentAt time.Time) error {
	args := m.Called(ctx, id, workerID, sentAt)
	return args.Error(0)
}

func (m *MockRepository) MarkFailed(ctx context.Context, f mailqueue.Failure) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockRepository) Stats(ctx context.Context, retryCeiling int) (mailqueue.Stats, error) {
	args := m.Called(ctx, retryCeiling)
	return args.Get(0).(mailqueue.Stats), args.Error(1)
}
