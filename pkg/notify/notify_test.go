package notify_test

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailqueue/pkg/email"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
	"github.com/dmitrymomot/mailqueue/pkg/notify"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	return m.Called(ctx, params).Error(0)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, recipientRef string, kind mailqueue.Kind, payload any) (uuid.UUID, error) {
	args := m.Called(ctx, recipientRef, kind, payload)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	data     [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.data = append(p.data, data)
	return p.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var welcome = notify.WelcomePayload{
	To:          "user@example.com",
	Subject:     "Welcome!",
	TextContent: "Thanks for signing up.",
	HTMLContent: "<p>Thanks for signing up.</p>",
}

var admin = notify.AdminNotificationPayload{
	To:      "admin@example.com",
	Subject: "New signup",
	Message: "user@example.com signed up",
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestWelcomeTransport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sender := new(mockSender)
	sender.On("SendEmail", mock.Anything, email.SendEmailParams{
		SendTo:   welcome.To,
		Subject:  welcome.Subject,
		BodyText: welcome.TextContent,
		BodyHTML: welcome.HTMLContent,
		Tag:      "welcome",
	}).Return(nil).Once()

	err := notify.WelcomeTransport(sender).Deliver(ctx, raw(t, welcome))
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestWelcomeTransport_BadPayload(t *testing.T) {
	t.Parallel()

	sender := new(mockSender)
	err := notify.WelcomeTransport(sender).Deliver(context.Background(), json.RawMessage(`{"to": 42}`))
	assert.Error(t, err)
	sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestAdminNotificationTransport(t *testing.T) {
	t.Parallel()

	params := email.SendEmailParams{
		SendTo:   admin.To,
		Subject:  admin.Subject,
		BodyText: admin.Message,
		Tag:      "admin_notification",
	}

	t.Run("email only", func(t *testing.T) {
		t.Parallel()

		sender := new(mockSender)
		sender.On("SendEmail", mock.Anything, params).Return(nil).Once()

		err := notify.AdminNotificationTransport(sender).Deliver(context.Background(), raw(t, admin))
		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("publishes after send", func(t *testing.T) {
		t.Parallel()

		sender := new(mockSender)
		sender.On("SendEmail", mock.Anything, params).Return(nil).Once()
		pub := &recordingPublisher{}

		tr := notify.AdminNotificationTransport(sender, notify.WithPublisher(pub, "ops.alerts"), notify.WithLogger(discard()))
		require.NoError(t, tr.Deliver(context.Background(), raw(t, admin)))

		require.Len(t, pub.subjects, 1)
		assert.Equal(t, "ops.alerts", pub.subjects[0])
		var got notify.AdminNotificationPayload
		require.NoError(t, json.Unmarshal(pub.data[0], &got))
		assert.Equal(t, admin, got)
	})

	t.Run("publish failure does not fail delivery", func(t *testing.T) {
		t.Parallel()

		sender := new(mockSender)
		sender.On("SendEmail", mock.Anything, params).Return(nil).Once()
		pub := &recordingPublisher{err: errors.New("nats down")}

		tr := notify.AdminNotificationTransport(sender, notify.WithPublisher(pub, ""), notify.WithLogger(discard()))
		require.NoError(t, tr.Deliver(context.Background(), raw(t, admin)))
		assert.Equal(t, []string{"mailqueue.admin"}, pub.subjects)
	})

	t.Run("send failure skips publish", func(t *testing.T) {
		t.Parallel()

		sender := new(mockSender)
		sender.On("SendEmail", mock.Anything, params).Return(email.ErrFailedToSendEmail).Once()
		pub := &recordingPublisher{}

		tr := notify.AdminNotificationTransport(sender, notify.WithPublisher(pub, "ops.alerts"))
		err := tr.Deliver(context.Background(), raw(t, admin))
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.Empty(t, pub.subjects)
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := mailqueue.NewRegistry()
	require.NoError(t, notify.Register(reg, new(mockSender)))
	assert.Equal(t, []mailqueue.Kind{notify.KindAdminNotification, notify.KindWelcome}, reg.Kinds())

	err := notify.Register(reg, new(mockSender))
	assert.ErrorIs(t, err, mailqueue.ErrKindAlreadyRegistered)

	assert.ErrorIs(t, notify.Register(mailqueue.NewRegistry(), nil), notify.ErrSenderNil)
}

func TestEnqueueWelcome(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		id := uuid.New()
		enq := new(mockEnqueuer)
		enq.On("Enqueue", ctx, "user-1", notify.KindWelcome, welcome).Return(id, nil).Once()

		got, err := notify.EnqueueWelcome(ctx, enq, "user-1", welcome)
		require.NoError(t, err)
		assert.Equal(t, id, got)
		enq.AssertExpectations(t)
	})

	tests := []struct {
		name   string
		mutate func(*notify.WelcomePayload)
	}{
		{"bad address", func(p *notify.WelcomePayload) { p.To = "nope" }},
		{"no subject", func(p *notify.WelcomePayload) { p.Subject = " " }},
		{"no content", func(p *notify.WelcomePayload) { p.TextContent, p.HTMLContent = "", "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := welcome
			tt.mutate(&p)
			enq := new(mockEnqueuer)
			_, err := notify.EnqueueWelcome(ctx, enq, "user-1", p)
			assert.ErrorIs(t, err, notify.ErrInvalidPayload)
			enq.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestEnqueueAdminNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	enq := new(mockEnqueuer)
	enq.On("Enqueue", ctx, notify.AdminRecipientRef, notify.KindAdminNotification, admin).Return(uuid.New(), nil).Once()
	_, err := notify.EnqueueAdminNotification(ctx, enq, admin)
	require.NoError(t, err)
	enq.AssertExpectations(t)

	p := admin
	p.To = ""
	_, err = notify.EnqueueAdminNotification(ctx, enq, p)
	assert.ErrorIs(t, err, notify.ErrNoAdminRecipient)

	p = admin
	p.Message = ""
	_, err = notify.EnqueueAdminNotification(ctx, enq, p)
	assert.ErrorIs(t, err, notify.ErrInvalidPayload)
}

func TestSafeEnqueue_SwallowsErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	enq := new(mockEnqueuer)
	enq.On("Enqueue", ctx, "user-1", notify.KindWelcome, welcome).
		Return(uuid.Nil, mailqueue.ErrEnqueueFailed).Once()
	enq.On("Enqueue", ctx, notify.AdminRecipientRef, notify.KindAdminNotification, admin).
		Return(uuid.New(), nil).Once()

	assert.NotPanics(t, func() {
		assert.False(t, notify.SafeEnqueueWelcome(ctx, enq, discard(), "user-1", welcome))
		assert.True(t, notify.SafeEnqueueAdminNotification(ctx, enq, discard(), admin))
		assert.False(t, notify.SafeEnqueueAdminNotification(ctx, enq, nil, notify.AdminNotificationPayload{}))
	})
	enq.AssertExpectations(t)
}

func TestConnectNATS_EmptyURL(t *testing.T) {
	t.Parallel()

	nc, err := notify.ConnectNATS("", "mailqueue")
	assert.NoError(t, err)
	assert.Nil(t, nc)
}

// Signup flow: the welcome and admin messages are enqueued, wait out the
// minimum age, and go out in one cycle.
func TestSignupFlow_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signupAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := signupAt

	store := mailqueue.NewMemoryStorage()
	reg := mailqueue.NewRegistry()

	sender := new(mockSender)
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
		return p.SendTo == welcome.To && p.Tag == "welcome"
	})).Return(nil).Once()
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
		return p.SendTo == admin.To && p.Tag == "admin_notification"
	})).Return(nil).Once()
	require.NoError(t, notify.Register(reg, sender, notify.WithLogger(discard())))

	enq, err := mailqueue.NewEnqueuer(store,
		mailqueue.WithKnownKinds(reg),
		mailqueue.WithEnqueuerClock(func() time.Time { return signupAt }),
		mailqueue.WithEnqueuerLogger(discard()),
	)
	require.NoError(t, err)

	require.True(t, notify.SafeEnqueueWelcome(ctx, enq, discard(), "user-1", welcome))
	require.True(t, notify.SafeEnqueueAdminNotification(ctx, enq, discard(), admin))

	disp, err := mailqueue.NewDispatcher(store, reg, mailqueue.WithDispatcherLogger(discard()))
	require.NoError(t, err)
	drv, err := mailqueue.NewDriver(store, disp,
		mailqueue.WithClock(func() time.Time { return now }),
		mailqueue.WithDriverLogger(discard()),
	)
	require.NoError(t, err)

	res, err := drv.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected, "messages younger than the minimum age are not selected")

	now = signupAt.Add(3 * time.Minute)
	res, err = drv.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Zero(t, res.Failed)

	stats, err := drv.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sent)
	assert.Zero(t, stats.Pending)
	sender.AssertExpectations(t)
}
