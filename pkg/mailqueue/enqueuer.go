package mailqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailqueue/pkg/logger"
)

// Enqueuer persists new messages. It never calls a transport.
type Enqueuer struct {
	repo     EnqueuerRepository
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:     repo,
		registry: options.registry,
		now:      options.now,
		logger:   options.logger,
	}, nil
}

// Enqueue stores a pending message and returns its id. The payload is any value
// that encodes to a JSON object; raw JSON ([]byte, json.RawMessage) is stored as is.
//
// Storage failures are wrapped with ErrEnqueueFailed. Callers usually log them and
// carry on, since a notification is rarely essential to the operation it accompanies.
func (e *Enqueuer) Enqueue(ctx context.Context, recipientRef string, kind Kind, payload any) (uuid.UUID, error) {
	if kind == "" {
		return uuid.Nil, ErrEmptyKind
	}
	if e.registry != nil {
		if _, ok := e.registry.Lookup(kind); !ok {
			return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return uuid.Nil, err
	}

	msg := &Message{
		ID:           uuid.New(),
		RecipientRef: recipientRef,
		Kind:         kind,
		Payload:      raw,
		Status:       StatusPending,
		Attempts:     0,
		CreatedAt:    e.now().UTC(),
	}

	if err := e.repo.CreateMessage(ctx, msg); err != nil {
		return uuid.Nil, errors.Join(ErrEnqueueFailed, fmt.Errorf("kind %q: %w", kind, err))
	}

	e.logger.DebugContext(ctx, "message enqueued",
		logger.MessageID(msg.ID),
		logger.Kind(string(kind)),
	)

	return msg.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil, ErrPayloadNil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
		}
		raw = b
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrPayloadNotObject
	}
	return append(json.RawMessage(nil), trimmed...), nil
}
