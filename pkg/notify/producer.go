package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailqueue/pkg/email"
	"github.com/dmitrymomot/mailqueue/pkg/logger"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

// Enqueuer is satisfied by *mailqueue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, recipientRef string, kind mailqueue.Kind, payload any) (uuid.UUID, error)
}

// AdminRecipientRef is the recipient reference stored for operator mail.
const AdminRecipientRef = "admin"

// EnqueueWelcome validates p and stores a welcome message for recipientRef.
func EnqueueWelcome(ctx context.Context, enq Enqueuer, recipientRef string, p WelcomePayload) (uuid.UUID, error) {
	if !email.IsValidAddress(p.To) {
		return uuid.Nil, fmt.Errorf("%w: to must be a valid email address", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return uuid.Nil, fmt.Errorf("%w: subject is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.TextContent) == "" && strings.TrimSpace(p.HTMLContent) == "" {
		return uuid.Nil, fmt.Errorf("%w: text_content or html_content is required", ErrInvalidPayload)
	}
	return enq.Enqueue(ctx, recipientRef, KindWelcome, p)
}

// EnqueueAdminNotification validates p and stores an operator notification.
func EnqueueAdminNotification(ctx context.Context, enq Enqueuer, p AdminNotificationPayload) (uuid.UUID, error) {
	if strings.TrimSpace(p.To) == "" {
		return uuid.Nil, ErrNoAdminRecipient
	}
	if !email.IsValidAddress(p.To) {
		return uuid.Nil, fmt.Errorf("%w: to must be a valid email address", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return uuid.Nil, fmt.Errorf("%w: subject is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Message) == "" {
		return uuid.Nil, fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}
	return enq.Enqueue(ctx, AdminRecipientRef, KindAdminNotification, p)
}

// SafeEnqueueWelcome is EnqueueWelcome for flows that must not fail on
// notification errors. Errors are logged and reported as false.
func SafeEnqueueWelcome(ctx context.Context, enq Enqueuer, log *slog.Logger, recipientRef string, p WelcomePayload) bool {
	id, err := EnqueueWelcome(ctx, enq, recipientRef, p)
	if err != nil {
		orDefault(log).ErrorContext(ctx, "failed to enqueue welcome email",
			logger.Recipient(recipientRef),
			logger.Error(err),
		)
		return false
	}
	orDefault(log).DebugContext(ctx, "welcome email queued", logger.MessageID(id))
	return true
}

// SafeEnqueueAdminNotification is EnqueueAdminNotification that logs and
// swallows errors.
func SafeEnqueueAdminNotification(ctx context.Context, enq Enqueuer, log *slog.Logger, p AdminNotificationPayload) bool {
	id, err := EnqueueAdminNotification(ctx, enq, p)
	if err != nil {
		orDefault(log).ErrorContext(ctx, "failed to enqueue admin notification",
			logger.Kind(string(KindAdminNotification)),
			logger.Error(err),
		)
		return false
	}
	orDefault(log).DebugContext(ctx, "admin notification queued", logger.MessageID(id))
	return true
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
