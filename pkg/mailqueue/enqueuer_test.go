package mailqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

type welcomePayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestNewEnqueuer(t *testing.T) {
	t.Parallel()

	_, err := mailqueue.NewEnqueuer(nil)
	assert.ErrorIs(t, err, mailqueue.ErrRepositoryNil)

	enq, err := mailqueue.NewEnqueuer(mailqueue.NewMemoryStorage())
	require.NoError(t, err)
	assert.NotNil(t, enq)
}

func TestEnqueuer_Enqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := func() time.Time { return t0 }

	t.Run("persists a pending message", func(t *testing.T) {
		t.Parallel()
		repo := mailqueue.NewMemoryStorage()
		enq, err := mailqueue.NewEnqueuer(repo,
			mailqueue.WithEnqueuerClock(clock),
			mailqueue.WithEnqueuerLogger(discardLogger()))
		require.NoError(t, err)

		id, err := enq.Enqueue(ctx, "user-1", kindWelcome, welcomePayload{To: "a@example.com", Subject: "Hi"})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, id)

		msg := mustGet(t, repo, id)
		assert.Equal(t, "user-1", msg.RecipientRef)
		assert.Equal(t, kindWelcome, msg.Kind)
		assert.Equal(t, mailqueue.StatusPending, msg.Status)
		assert.Equal(t, 0, msg.Attempts)
		assert.Equal(t, t0, msg.CreatedAt)
		assert.Nil(t, msg.SentAt)
		assert.JSONEq(t, `{"to":"a@example.com","subject":"Hi"}`, string(msg.Payload))
	})

	t.Run("raw json is stored as is", func(t *testing.T) {
		t.Parallel()
		repo := mailqueue.NewMemoryStorage()
		enq, err := mailqueue.NewEnqueuer(repo)
		require.NoError(t, err)

		id, err := enq.Enqueue(ctx, "user-2", kindWelcome, []byte(`{"custom":true}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"custom":true}`, string(mustGet(t, repo, id).Payload))

		id, err = enq.Enqueue(ctx, "user-2", kindWelcome, json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(mustGet(t, repo, id).Payload))
	})

	t.Run("never calls a transport", func(t *testing.T) {
		t.Parallel()
		tr := &recordingTransport{}
		reg := newRegistry(t, tr)
		enq, err := mailqueue.NewEnqueuer(mailqueue.NewMemoryStorage(), mailqueue.WithKnownKinds(reg))
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, "user-3", kindWelcome, map[string]string{"to": "x@example.com"})
		require.NoError(t, err)
		assert.Zero(t, tr.Calls())
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()
		enq, err := mailqueue.NewEnqueuer(mailqueue.NewMemoryStorage())
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, "u", "", map[string]string{})
		assert.ErrorIs(t, err, mailqueue.ErrEmptyKind)

		_, err = enq.Enqueue(ctx, "u", kindWelcome, nil)
		assert.ErrorIs(t, err, mailqueue.ErrPayloadNil)

		_, err = enq.Enqueue(ctx, "u", kindWelcome, []string{"not", "an", "object"})
		assert.ErrorIs(t, err, mailqueue.ErrPayloadNotObject)

		_, err = enq.Enqueue(ctx, "u", kindWelcome, []byte(`not json`))
		assert.ErrorIs(t, err, mailqueue.ErrPayloadNotObject)
	})

	t.Run("unknown kind with known kinds", func(t *testing.T) {
		t.Parallel()
		reg := newRegistry(t, &recordingTransport{})
		enq, err := mailqueue.NewEnqueuer(mailqueue.NewMemoryStorage(), mailqueue.WithKnownKinds(reg))
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, "u", "digest", map[string]string{})
		assert.ErrorIs(t, err, mailqueue.ErrUnknownKind)
	})

	t.Run("storage failure is an enqueue failure", func(t *testing.T) {
		t.Parallel()
		repo := &MockRepository{}
		storeErr := errors.New("database is unavailable")
		repo.On("CreateMessage", mock.Anything, mock.AnythingOfType("*mailqueue.Message")).Return(storeErr)

		enq, err := mailqueue.NewEnqueuer(repo, mailqueue.WithEnqueuerLogger(discardLogger()))
		require.NoError(t, err)

		id, err := enq.Enqueue(ctx, "u", kindWelcome, map[string]string{"to": "a@example.com"})
		assert.Equal(t, uuid.Nil, id)
		assert.ErrorIs(t, err, mailqueue.ErrEnqueueFailed)
		assert.ErrorIs(t, err, storeErr)
		repo.AssertExpectations(t)
	})
}
