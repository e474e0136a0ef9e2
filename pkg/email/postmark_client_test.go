package email_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailqueue/pkg/email"
)

func TestNewPostmarkClient(t *testing.T) {
	t.Parallel()

	valid := email.Config{
		PostmarkServerToken:  "test-server-token",
		PostmarkAccountToken: "test-account-token",
		SenderEmail:          "sender@example.com",
		SupportEmail:         "support@example.com",
	}

	t.Run("valid config", func(t *testing.T) {
		t.Parallel()
		client, err := email.NewPostmarkClient(valid)
		require.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("support email is optional", func(t *testing.T) {
		t.Parallel()
		cfg := valid
		cfg.SupportEmail = ""
		_, err := email.NewPostmarkClient(cfg)
		assert.NoError(t, err)
	})

	tests := []struct {
		name   string
		mutate func(*email.Config)
		errMsg string
	}{
		{"empty server token", func(c *email.Config) { c.PostmarkServerToken = "" }, "PostmarkServerToken is required"},
		{"empty account token", func(c *email.Config) { c.PostmarkAccountToken = "" }, "PostmarkAccountToken is required"},
		{"missing sender", func(c *email.Config) { c.SenderEmail = "" }, "SenderEmail must be a valid email address"},
		{"invalid sender", func(c *email.Config) { c.SenderEmail = "invalid-email" }, "SenderEmail must be a valid email address"},
		{"invalid support", func(c *email.Config) { c.SupportEmail = "@invalid.com" }, "SupportEmail must be a valid email address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			client, err := email.NewPostmarkClient(cfg)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, email.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPostmarkClient_SendEmail_ValidationError(t *testing.T) {
	t.Parallel()

	client, err := email.NewPostmarkClient(email.Config{
		PostmarkServerToken:  "test-token",
		PostmarkAccountToken: "test-token",
		SenderEmail:          "sender@example.com",
	})
	require.NoError(t, err)

	err = client.SendEmail(context.Background(), email.SendEmailParams{
		SendTo:  "user@example.com",
		Subject: "Test Email",
	})
	assert.ErrorIs(t, err, email.ErrInvalidParams)
	assert.Contains(t, err.Error(), "BodyHTML or BodyText is required")
}
