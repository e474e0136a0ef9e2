package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dmitrymomot/mailqueue/pkg/email"
	"github.com/dmitrymomot/mailqueue/pkg/logger"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

// Option configures the transports registered by Register.
type Option func(*options)

type options struct {
	publisher Publisher
	subject   string
	logger    *slog.Logger
}

// WithPublisher mirrors every delivered admin notification to subject.
// Publish failures are logged and never fail the delivery.
func WithPublisher(p Publisher, subject string) Option {
	return func(o *options) {
		o.publisher = p
		if subject != "" {
			o.subject = subject
		}
	}
}

// WithLogger sets the logger used by the transports.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Register binds the built-in kinds to transports backed by sender.
func Register(reg *mailqueue.Registry, sender email.EmailSender, opts ...Option) error {
	if sender == nil {
		return ErrSenderNil
	}

	if err := reg.Register(KindWelcome, WelcomeTransport(sender)); err != nil {
		return err
	}
	return reg.Register(KindAdminNotification, AdminNotificationTransport(sender, opts...))
}

func newOptions(opts []Option) *options {
	o := &options{
		subject: "mailqueue.admin",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WelcomeTransport sends the welcome payload as a multipart email.
func WelcomeTransport(sender email.EmailSender) mailqueue.Transport {
	return mailqueue.NewTransport(func(ctx context.Context, p WelcomePayload) error {
		return sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   p.To,
			Subject:  p.Subject,
			BodyText: p.TextContent,
			BodyHTML: p.HTMLContent,
			Tag:      string(KindWelcome),
		})
	})
}

// AdminNotificationTransport sends the payload as plain text and then
// publishes it when a publisher is configured.
func AdminNotificationTransport(sender email.EmailSender, opts ...Option) mailqueue.Transport {
	o := newOptions(opts)
	return mailqueue.NewTransport(func(ctx context.Context, p AdminNotificationPayload) error {
		if err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   p.To,
			Subject:  p.Subject,
			BodyText: p.Message,
			Tag:      string(KindAdminNotification),
		}); err != nil {
			return err
		}

		if o.publisher == nil {
			return nil
		}
		data, err := json.Marshal(p)
		if err != nil {
			o.logger.ErrorContext(ctx, "failed to encode admin notification", logger.Error(err))
			return nil
		}
		if err := o.publisher.Publish(o.subject, data); err != nil {
			o.logger.WarnContext(ctx, "failed to publish admin notification",
				slog.String("subject", o.subject),
				logger.Error(err),
			)
		}
		return nil
	})
}
