package notify

import "errors"

var (
	ErrInvalidPayload   = errors.New("invalid notification payload")
	ErrSenderNil        = errors.New("email sender is nil")
	ErrNoAdminRecipient = errors.New("admin recipient is not configured")
	ErrNATSConnect      = errors.New("failed to connect to nats")
)
