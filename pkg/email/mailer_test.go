package email_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailqueue/pkg/email"
)

// MockEmailSender is a mock implementation of EmailSender for testing
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  email.SendEmailParams
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid html params",
			params: email.SendEmailParams{SendTo: "user@example.com", Subject: "Hi", BodyHTML: "<p>x</p>", Tag: "test"},
		},
		{
			name:   "valid text only",
			params: email.SendEmailParams{SendTo: "user@example.com", Subject: "Hi", BodyText: "x"},
		},
		{
			name:   "complex valid email",
			params: email.SendEmailParams{SendTo: "test.user+tag@sub.example.com", Subject: "Hi", BodyText: "x"},
		},
		{
			name:    "empty SendTo",
			params:  email.SendEmailParams{Subject: "Hi", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "SendTo is required",
		},
		{
			name:    "whitespace only SendTo",
			params:  email.SendEmailParams{SendTo: "   ", Subject: "Hi", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "SendTo is required",
		},
		{
			name:    "invalid email format",
			params:  email.SendEmailParams{SendTo: "invalid-email", Subject: "Hi", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "SendTo must be a valid email address",
		},
		{
			name:    "invalid email missing local part",
			params:  email.SendEmailParams{SendTo: "@example.com", Subject: "Hi", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "SendTo must be a valid email address",
		},
		{
			name:    "empty Subject",
			params:  email.SendEmailParams{SendTo: "user@example.com", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "Subject is required",
		},
		{
			name:    "multiline Subject",
			params:  email.SendEmailParams{SendTo: "user@example.com", Subject: "a\r\nBcc: x@y.z", BodyHTML: "<p>x</p>"},
			wantErr: true,
			errMsg:  "Subject must be a single line",
		},
		{
			name:    "no body",
			params:  email.SendEmailParams{SendTo: "user@example.com", Subject: "Hi", BodyHTML: "  "},
			wantErr: true,
			errMsg:  "BodyHTML or BodyText is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, email.ErrInvalidParams)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func filesBySuffix(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[filepath.Ext(e.Name())] = filepath.Join(dir, e.Name())
	}
	return out
}

func TestDevSender_SendEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("html and text with tag", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)

		err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   "user@example.com",
			Subject:  "Test Email",
			BodyHTML: "<p>Test content</p>",
			BodyText: "Test content",
			Tag:      "welcome",
		})
		require.NoError(t, err)

		files := filesBySuffix(t, dir)
		require.Len(t, files, 3)

		html, err := os.ReadFile(files[".html"])
		require.NoError(t, err)
		assert.Equal(t, "<p>Test content</p>", string(html))

		text, err := os.ReadFile(files[".txt"])
		require.NoError(t, err)
		assert.Equal(t, "Test content", string(text))

		raw, err := os.ReadFile(files[".json"])
		require.NoError(t, err)
		var meta map[string]any
		require.NoError(t, json.Unmarshal(raw, &meta))
		assert.Equal(t, "user@example.com", meta["send_to"])
		assert.Equal(t, "Test Email", meta["subject"])
		assert.Equal(t, "welcome", meta["tag"])
		assert.NotEmpty(t, meta["timestamp"])
		assert.Contains(t, filepath.Base(files[".json"]), "welcome")
	})

	t.Run("text only without tag uses subject", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)

		err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   "admin@example.com",
			Subject:  "Password Reset",
			BodyText: "reset",
		})
		require.NoError(t, err)

		files := filesBySuffix(t, dir)
		assert.Len(t, files, 2)
		assert.NotContains(t, files, ".html")
		assert.Contains(t, filepath.Base(files[".txt"]), "password_reset")
	})

	t.Run("validation error writes nothing", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)

		err := sender.SendEmail(ctx, email.SendEmailParams{Subject: "x", BodyHTML: "<p>x</p>"})
		assert.ErrorIs(t, err, email.ErrInvalidParams)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("directory creation error", func(t *testing.T) {
		t.Parallel()

		sender := email.NewDevSender("/dev/null/cannot-create-here")
		err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo: "user@example.com", Subject: "x", BodyHTML: "<p>x</p>",
		})
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.Contains(t, err.Error(), "failed to create directory")
	})

	t.Run("unicode content preserved", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		sender := email.NewDevSender(dir)
		err := sender.SendEmail(ctx, email.SendEmailParams{
			SendTo:   "user@example.com",
			Subject:  "Unicode Test 🚀",
			BodyHTML: "<p>你好世界 🌍</p>",
			Tag:      "unicode-test",
		})
		require.NoError(t, err)

		content, err := os.ReadFile(filesBySuffix(t, dir)[".html"])
		require.NoError(t, err)
		assert.Contains(t, string(content), "你好世界 🌍")
	})
}

func TestDevSender_SanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "normal string", input: "Hello World", expected: "hello_world"},
		{name: "special characters", input: "Test@Email#Subject!", expected: "testemailsubject"},
		{name: "only special characters", input: "!@#$%^&*()", expected: "email"},
		{name: "very long string truncated", input: strings.Repeat("a", 150), expected: strings.Repeat("a", 100)},
		{name: "allowed characters preserved", input: "test-file_name.backup", expected: "test-file_name.backup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			sender := email.NewDevSender(dir)
			err := sender.SendEmail(context.Background(), email.SendEmailParams{
				SendTo:   "user@example.com",
				Subject:  "Test Subject",
				BodyHTML: "<p>x</p>",
				Tag:      tt.input,
			})
			require.NoError(t, err)

			name := filepath.Base(filesBySuffix(t, dir)[".html"])
			// 2006_01_02_150405.000000_<identifier>.html
			parts := strings.SplitN(name, "_", 5)
			require.Len(t, parts, 5)
			assert.Equal(t, tt.expected, strings.TrimSuffix(parts[4], ".html"))
		})
	}
}

func TestNewSender(t *testing.T) {
	t.Parallel()

	t.Run("dev by default", func(t *testing.T) {
		t.Parallel()
		s, err := email.NewSender(email.Config{DevDir: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &email.DevSender{}, s)
	})

	t.Run("postmark", func(t *testing.T) {
		t.Parallel()
		s, err := email.NewSender(email.Config{
			Provider:             email.ProviderPostmark,
			PostmarkServerToken:  "a",
			PostmarkAccountToken: "b",
			SenderEmail:          "noreply@example.com",
		})
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("smtp requires host", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewSender(email.Config{Provider: email.ProviderSMTP, SenderEmail: "noreply@example.com"})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "SMTPHost is required")
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewSender(email.Config{Provider: "pigeon"})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})
}

func TestEmailSender_Mock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	params := email.SendEmailParams{SendTo: "user@example.com", Subject: "Test", BodyText: "x"}

	m := new(MockEmailSender)
	m.On("SendEmail", ctx, params).Return(email.ErrFailedToSendEmail).Once()

	var sender email.EmailSender = m
	assert.ErrorIs(t, sender.SendEmail(ctx, params), email.ErrFailedToSendEmail)
	m.AssertExpectations(t)
}
