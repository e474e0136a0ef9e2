package mailqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

const kindWelcome mailqueue.Kind = "welcome"

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seed stores a pending message created at createdAt with the given attempts.
func seed(t *testing.T, repo *mailqueue.MemoryStorage, createdAt time.Time, attempts int) *mailqueue.Message {
	t.Helper()
	msg := &mailqueue.Message{
		ID:           uuid.New(),
		RecipientRef: "user-" + uuid.NewString()[:8],
		Kind:         kindWelcome,
		Payload:      json.RawMessage(`{"to":"a@example.com"}`),
		Status:       mailqueue.StatusPending,
		Attempts:     attempts,
		CreatedAt:    createdAt,
	}
	require.NoError(t, repo.CreateMessage(context.Background(), msg))
	return msg
}

func mustGet(t *testing.T, repo *mailqueue.MemoryStorage, id uuid.UUID) *mailqueue.Message {
	t.Helper()
	msg, err := repo.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func criteria(now time.Time) mailqueue.Criteria {
	return mailqueue.Criteria{
		Now:          now,
		MinAge:       2 * time.Minute,
		RetryCeiling: 5,
		BatchSize:    20,
	}
}

// recordingTransport counts calls and fails the first failFirst of them.
type recordingTransport struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	payloads  []json.RawMessage
}

func (r *recordingTransport) Deliver(_ context.Context, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.payloads = append(r.payloads, payload)
	if r.calls <= r.failFirst {
		return errors.New("smtp: 421 service not available")
	}
	return nil
}

func (r *recordingTransport) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newRegistry(t *testing.T, tr mailqueue.Transport) *mailqueue.Registry {
	t.Helper()
	reg := mailqueue.NewRegistry()
	require.NoError(t, reg.Register(kindWelcome, tr))
	return reg
}

func newDispatcher(t *testing.T, repo mailqueue.DispatcherRepository, reg *mailqueue.Registry, opts ...mailqueue.DispatcherOption) *mailqueue.Dispatcher {
	t.Helper()
	opts = append([]mailqueue.DispatcherOption{mailqueue.WithDispatcherLogger(discardLogger())}, opts...)
	d, err := mailqueue.NewDispatcher(repo, reg, opts...)
	require.NoError(t, err)
	return d
}

func newDriver(t *testing.T, repo mailqueue.Repository, d *mailqueue.Dispatcher, opts ...mailqueue.DriverOption) *mailqueue.Driver {
	t.Helper()
	opts = append([]mailqueue.DriverOption{mailqueue.WithDriverLogger(discardLogger())}, opts...)
	drv, err := mailqueue.NewDriver(repo, d, opts...)
	require.NoError(t, err)
	return drv
}
