package notify

import "github.com/dmitrymomot/mailqueue/pkg/mailqueue"

const (
	// KindWelcome is a multipart welcome email sent after signup.
	KindWelcome mailqueue.Kind = "welcome"
	// KindAdminNotification is a plain-text email to the operator.
	KindAdminNotification mailqueue.Kind = "admin_notification"
)

// WelcomePayload is stored as the message payload for KindWelcome.
// Both bodies are rendered by the producer before enqueueing.
type WelcomePayload struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	TextContent string `json:"text_content"`
	HTMLContent string `json:"html_content"`
}

// AdminNotificationPayload is stored as the message payload for KindAdminNotification.
type AdminNotificationPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}
