package mailqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
)

func TestNewDriver(t *testing.T) {
	t.Parallel()

	repo := mailqueue.NewMemoryStorage()
	d := newDispatcher(t, repo, mailqueue.NewRegistry())

	_, err := mailqueue.NewDriver(nil, d)
	assert.ErrorIs(t, err, mailqueue.ErrRepositoryNil)

	_, err = mailqueue.NewDriver(repo, nil)
	assert.ErrorIs(t, err, mailqueue.ErrDispatcherNil)

	drv := newDriver(t, repo, d, mailqueue.WithBatchSize(7), mailqueue.WithMinAge(time.Minute))
	c := drv.Criteria(t0)
	assert.Equal(t, mailqueue.Criteria{Now: t0, MinAge: time.Minute, RetryCeiling: 5, BatchSize: 7}, c)

	_, ok := drv.LastRun()
	assert.False(t, ok)
}

// Enqueue at t0 with a two minute delay window and a transport that fails once.
func TestDriver_WelcomeScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := mailqueue.NewMemoryStorage()
	tr := &recordingTransport{failFirst: 1}
	reg := newRegistry(t, tr)

	enq, err := mailqueue.NewEnqueuer(repo,
		mailqueue.WithKnownKinds(reg),
		mailqueue.WithEnqueuerClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	id, err := enq.Enqueue(ctx, "user-1", kindWelcome, welcomePayload{To: "a@example.com", Subject: "Welcome"})
	require.NoError(t, err)

	drv := newDriver(t, repo, newDispatcher(t, repo, reg), mailqueue.WithMinAge(2*time.Minute))

	res, err := drv.RunCycle(ctx, drv.Criteria(t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, mailqueue.CycleResult{}, res)
	assert.Zero(t, tr.Calls())

	res, err = drv.RunCycle(ctx, drv.Criteria(t0.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	msg := mustGet(t, repo, id)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, mailqueue.StatusPending, msg.Status)
	assert.Nil(t, msg.SentAt)

	res, err = drv.RunCycle(ctx, drv.Criteria(t0.Add(4*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	msg = mustGet(t, repo, id)
	assert.Equal(t, mailqueue.StatusSent, msg.Status)
	require.NotNil(t, msg.SentAt)
	assert.Equal(t, 1, msg.Attempts)

	last, ok := drv.LastRun()
	require.True(t, ok)
	assert.True(t, last.Equal(t0.Add(4*time.Minute)))
}

func TestDriver_LastAttemptReachesCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := mailqueue.NewMemoryStorage()
	msg := seed(t, repo, t0, 4)
	tr := &recordingTransport{failFirst: 100}
	drv := newDriver(t, repo, newDispatcher(t, repo, newRegistry(t, tr)))

	res, err := drv.RunCycle(ctx, drv.Criteria(t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 5, mustGet(t, repo, msg.ID).Attempts)

	for i := 2; i < 10; i++ {
		batch, err := mailqueue.Select(ctx, repo, drv.Criteria(t0.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		assert.Empty(t, batch)
	}

	stats, err := drv.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.Stats{Exhausted: 1}, stats)
	assert.Equal(t, 1, tr.Calls())
}

func TestDriver_EventuallySent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for failures := 0; failures < 5; failures++ {
		repo := mailqueue.NewMemoryStorage()
		msg := seed(t, repo, t0, 0)
		tr := &recordingTransport{failFirst: failures}
		drv := newDriver(t, repo, newDispatcher(t, repo, newRegistry(t, tr)))

		now := t0.Add(time.Hour)
		for cycle := 0; cycle < 5; cycle++ {
			_, err := drv.RunCycle(ctx, drv.Criteria(now.Add(time.Duration(cycle)*time.Minute)))
			require.NoError(t, err)
		}

		got := mustGet(t, repo, msg.ID)
		assert.True(t, got.IsSent(), "failures=%d", failures)
		assert.Equal(t, failures, got.Attempts)
		assert.Equal(t, failures+1, tr.Calls())
	}
}

func TestDriver_AttemptsMonotonicAndSentTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := mailqueue.NewMemoryStorage()
	ids := make([]uuid.UUID, 0, 12)
	for i := range 12 {
		ids = append(ids, seed(t, repo, t0.Add(time.Duration(i)*time.Second), 0).ID)
	}

	rng := rand.New(rand.NewPCG(1, 2))
	var mu sync.Mutex
	tr := mailqueue.TransportFunc(func(context.Context, json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		if rng.IntN(3) == 0 {
			return nil
		}
		return errors.New("flaky")
	})
	drv := newDriver(t, repo, newDispatcher(t, repo, newRegistry(t, tr)), mailqueue.WithBatchSize(5))

	prev := make(map[uuid.UUID]*mailqueue.Message, len(ids))
	for _, id := range ids {
		prev[id] = mustGet(t, repo, id)
	}

	now := t0.Add(time.Hour)
	for cycle := range 20 {
		_, err := drv.RunCycle(ctx, drv.Criteria(now.Add(time.Duration(cycle)*time.Minute)))
		require.NoError(t, err)

		for _, id := range ids {
			cur := mustGet(t, repo, id)
			before := prev[id]
			assert.GreaterOrEqual(t, cur.Attempts, before.Attempts)
			if before.IsSent() {
				assert.Equal(t, before, cur, "sent message changed")
			}
			assert.Equal(t, cur.IsSent(), cur.SentAt != nil)
			prev[id] = cur
		}
	}
}

func TestDriver_ConcurrentCyclesSendOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for range 20 {
		repo := mailqueue.NewMemoryStorage()
		msg := seed(t, repo, t0, 0)

		var calls atomic.Int32
		tr := mailqueue.TransportFunc(func(context.Context, json.RawMessage) error {
			calls.Add(1)
			time.Sleep(time.Millisecond)
			return nil
		})
		reg := newRegistry(t, tr)
		a := newDriver(t, repo, newDispatcher(t, repo, reg))
		b := newDriver(t, repo, newDispatcher(t, repo, reg))

		c := a.Criteria(t0.Add(time.Hour))

		var wg sync.WaitGroup
		results := make([]mailqueue.CycleResult, 2)
		for i, drv := range []*mailqueue.Driver{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := drv.RunCycle(ctx, c)
				assert.NoError(t, err)
				results[i] = res
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, results[0].Sent+results[1].Sent)
		assert.True(t, mustGet(t, repo, msg.ID).IsSent())
	}
}

func TestDriver_StaleBatchAfterOtherCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo := mailqueue.NewMemoryStorage()
	msg := seed(t, repo, t0, 0)
	tr := &recordingTransport{}
	reg := newRegistry(t, tr)
	now := t0.Add(time.Hour)

	first := newDispatcher(t, repo, reg)
	second := newDispatcher(t, repo, reg)

	batchA, err := mailqueue.Select(ctx, repo, criteria(now))
	require.NoError(t, err)
	batchB, err := mailqueue.Select(ctx, repo, criteria(now))
	require.NoError(t, err)

	res, err := first.Dispatch(ctx, now, batchA)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = second.Dispatch(ctx, now, batchB)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, tr.Calls())
	assert.True(t, mustGet(t, repo, msg.ID).IsSent())
}

func TestDriver_StartStop(t *testing.T) {
	t.Parallel()

	repo := mailqueue.NewMemoryStorage()
	msg := seed(t, repo, t0, 0)
	tr := &recordingTransport{}
	drv := newDriver(t, repo, newDispatcher(t, repo, newRegistry(t, tr)),
		mailqueue.WithPollInterval(10*time.Millisecond),
		mailqueue.WithClock(func() time.Time { return t0.Add(time.Hour) }))

	assert.ErrorIs(t, drv.Stop(), mailqueue.ErrNotStarted)

	require.NoError(t, drv.Start(context.Background()))
	assert.ErrorIs(t, drv.Start(context.Background()), mailqueue.ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		got, err := repo.GetMessage(context.Background(), msg.ID)
		return err == nil && got.IsSent()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, drv.Stop())
	assert.Equal(t, 1, tr.Calls())
}

func TestDriver_LeaderCheck(t *testing.T) {
	t.Parallel()

	repo := mailqueue.NewMemoryStorage()
	msg := seed(t, repo, t0, 0)
	tr := &recordingTransport{}

	var leader atomic.Bool
	var checks atomic.Int32
	drv := newDriver(t, repo, newDispatcher(t, repo, newRegistry(t, tr)),
		mailqueue.WithPollInterval(5*time.Millisecond),
		mailqueue.WithClock(func() time.Time { return t0.Add(time.Hour) }),
		mailqueue.WithLeaderCheck(func(context.Context) bool {
			checks.Add(1)
			return leader.Load()
		}))

	require.NoError(t, drv.Start(context.Background()))
	t.Cleanup(func() { _ = drv.Stop() })

	assert.Eventually(t, func() bool { return checks.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, tr.Calls())

	leader.Store(true)
	assert.Eventually(t, func() bool {
		got, err := repo.GetMessage(context.Background(), msg.ID)
		return err == nil && got.IsSent()
	}, time.Second, 5*time.Millisecond)
}

func TestDriver_RunWithErrgroup(t *testing.T) {
	t.Parallel()

	repo := mailqueue.NewMemoryStorage()
	drv := newDriver(t, repo, newDispatcher(t, repo, mailqueue.NewRegistry()),
		mailqueue.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(drv.Run(gctx))

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.NoError(t, g.Wait())
}

func TestDriver_SelectionError(t *testing.T) {
	t.Parallel()

	repo := &MockRepository{}
	storeErr := errors.New("connection refused")
	repo.On("SelectEligible", mockAny, mockAny).Return(nil, storeErr)

	d := newDispatcher(t, repo, mailqueue.NewRegistry())
	drv := newDriver(t, repo, d)

	_, err := drv.RunOnce(context.Background())
	assert.ErrorIs(t, err, storeErr)
	_, ok := drv.LastRun()
	assert.False(t, ok)
}
