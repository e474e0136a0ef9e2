package mailqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/mailqueue/pkg/logger"
)

// Driver runs dispatch cycles: select the eligible batch, then dispatch it.
// It can poll on a fixed interval (Start/Run) and be triggered on demand
// (RunOnce/RunCycle) at the same time; overlapping cycles are resolved by the
// per-message claim, not by the driver.
type Driver struct {
	repo       Repository
	dispatcher *Dispatcher

	pollInterval time.Duration
	minAge       time.Duration
	retryCeiling int
	batchSize    int
	now          func() time.Time
	isLeader     func(context.Context) bool

	logger *slog.Logger
	tracer trace.Tracer

	// lastRun is informational only (unix nanos of the last cycle's reference time).
	lastRun atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver over repo and dispatcher.
func NewDriver(repo Repository, dispatcher *Dispatcher, opts ...DriverOption) (*Driver, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if dispatcher == nil {
		return nil, ErrDispatcherNil
	}

	options := &driverOptions{
		pollInterval: time.Minute,
		minAge:       2 * time.Minute,
		retryCeiling: dispatcher.Policy().RetryCeiling,
		batchSize:    20,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	d := &Driver{
		repo:         repo,
		dispatcher:   dispatcher,
		pollInterval: options.pollInterval,
		minAge:       options.minAge,
		retryCeiling: options.retryCeiling,
		batchSize:    options.batchSize,
		now:          options.now,
		isLeader:     options.isLeader,
		logger:       options.logger,
		tracer:       dispatcher.tracer,
	}

	if err := d.Criteria(d.now()).Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := dispatcher.metrics.registerExhaustedGauge(repo, d.retryCeiling); err != nil {
		return nil, err
	}

	return d, nil
}

// Criteria returns the configured selection parameters evaluated at now.
func (d *Driver) Criteria(now time.Time) Criteria {
	return Criteria{
		Now:          now,
		MinAge:       d.minAge,
		RetryCeiling: d.retryCeiling,
		BatchSize:    d.batchSize,
	}
}

// RunOnce runs one cycle with the configured parameters at the current time.
func (d *Driver) RunOnce(ctx context.Context) (CycleResult, error) {
	return d.RunCycle(ctx, d.Criteria(d.now()))
}

// RunCycle selects the eligible batch for c and dispatches it.
// Delivery failures are reported only through the result counters;
// errors are returned for selection failures and cancellation.
func (d *Driver) RunCycle(ctx context.Context, c Criteria) (CycleResult, error) {
	ctx, span := d.tracer.Start(ctx, "mailqueue.cycle", trace.WithAttributes(
		attribute.Int("mailqueue.batch_size", c.BatchSize),
		attribute.Int("mailqueue.retry_ceiling", c.RetryCeiling),
		attribute.String("mailqueue.min_age", c.MinAge.String()),
	))
	defer span.End()

	batch, err := Select(ctx, d.repo, c)
	if err != nil {
		span.RecordError(err)
		return CycleResult{}, err
	}
	d.lastRun.Store(c.Now.UnixNano())

	if len(batch) == 0 {
		d.logger.DebugContext(ctx, "no pending messages to send")
		return CycleResult{}, nil
	}

	res, err := d.dispatcher.Dispatch(ctx, c.Now, batch)

	span.SetAttributes(
		attribute.Int("mailqueue.sent", res.Sent),
		attribute.Int("mailqueue.failed", res.Failed),
		attribute.Int("mailqueue.skipped", res.Skipped),
	)
	d.logger.InfoContext(ctx, "dispatch cycle finished",
		logger.Component("mailqueue"),
		slog.Int("selected", res.Selected),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped))

	return res, err
}

// LastRun reports the reference time of the last cycle, if any ran.
func (d *Driver) LastRun() (time.Time, bool) {
	ns := d.lastRun.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}

// Stats returns queue counters relative to the driver's retry ceiling.
func (d *Driver) Stats(ctx context.Context) (Stats, error) {
	return d.repo.Stats(ctx, d.retryCeiling)
}

// Start begins polling in the background.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.run(runCtx, d.done)

	d.logger.Info("mailqueue driver started",
		slog.String("worker_id", d.dispatcher.WorkerID().String()),
		slog.Duration("poll_interval", d.pollInterval),
		slog.Duration("min_age", d.minAge),
		slog.Int("retry_ceiling", d.retryCeiling),
		slog.Int("batch_size", d.batchSize))

	return nil
}

// Stop cancels polling and waits for the current cycle to return.
// The message being delivered when Stop is called is finished first.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	cancel()
	<-done

	d.logger.Info("mailqueue driver stopped",
		slog.String("worker_id", d.dispatcher.WorkerID().String()))
	return nil
}

// Run starts the driver and returns a function suitable for errgroup
func (d *Driver) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return d.Stop()
	}
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Driver) tick(ctx context.Context) {
	if d.isLeader != nil && !d.isLeader(ctx) {
		d.logger.DebugContext(ctx, "not the leader, skipping dispatch cycle")
		return
	}

	if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.ErrorContext(ctx, "dispatch cycle failed", logger.Error(err))
	}
}
