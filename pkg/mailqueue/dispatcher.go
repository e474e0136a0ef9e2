package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/mailqueue/pkg/logger"
)

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	// Selected is the number of eligible messages returned by the selector.
	Selected int `json:"selected"`
	// Attempted counts transport invocations (including unknown kinds).
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	// Skipped counts messages another cycle claimed first.
	Skipped int `json:"skipped"`
}

// Add accumulates another result into r.
func (r *CycleResult) Add(o CycleResult) {
	r.Selected += o.Selected
	r.Attempted += o.Attempted
	r.Sent += o.Sent
	r.Failed += o.Failed
	r.Skipped += o.Skipped
}

// Dispatcher delivers a batch of messages through the registered transports.
// A failing message never affects the rest of the batch.
type Dispatcher struct {
	repo     DispatcherRepository
	registry *Registry
	policy   RetryPolicy
	workerID uuid.UUID

	timeout      time.Duration
	lease        time.Duration
	storeTimeout time.Duration

	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer
}

// NewDispatcher creates a dispatcher bound to repo and registry.
func NewDispatcher(repo DispatcherRepository, registry *Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	options := &dispatcherOptions{
		policy:          DefaultRetryPolicy(),
		deliveryTimeout: 30 * time.Second,
		claimLease:      5 * time.Minute,
		storeTimeout:    10 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	if err := options.policy.Validate(); err != nil {
		return nil, err
	}
	// A lease shorter than the delivery timeout would let a second cycle
	// claim a message whose transport call is still running. A call that
	// ignores its deadline can outlive the timeout, so a timed-out attempt
	// keeps the lease until it expires.
	if options.claimLease <= options.deliveryTimeout {
		return nil, fmt.Errorf("%w: claim lease (%s) must exceed delivery timeout (%s)",
			ErrInvalidConfig, options.claimLease, options.deliveryTimeout)
	}

	m, err := newMetrics(options.meterProvider)
	if err != nil {
		return nil, err
	}

	workerID := options.workerID
	if workerID == uuid.Nil {
		workerID = uuid.New()
	}

	return &Dispatcher{
		repo:         repo,
		registry:     registry,
		policy:       options.policy,
		workerID:     workerID,
		timeout:      options.deliveryTimeout,
		lease:        options.claimLease,
		storeTimeout: options.storeTimeout,
		logger:       options.logger,
		metrics:      m,
		tracer:       newTracer(options.tracerProvider),
	}, nil
}

// WorkerID identifies this dispatcher in claim leases.
func (d *Dispatcher) WorkerID() uuid.UUID {
	return d.workerID
}

// Policy returns the retry policy the dispatcher applies on failure.
func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// Dispatch processes batch in order. now is the cycle's reference time; the time
// recorded for each transition is now plus the wall time elapsed in the cycle.
//
// The only error returned is ctx's, when the cycle is cancelled between messages.
// Each message's outcome is committed independently, so aborting leaves no
// partial state behind.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time, batch []*Message) (CycleResult, error) {
	start := time.Now()
	res := CycleResult{Selected: len(batch)}

	for _, msg := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		at := now.Add(time.Since(start))
		switch d.dispatchOne(ctx, at, msg) {
		case outcomeSent:
			res.Attempted++
			res.Sent++
		case outcomeFailed:
			res.Attempted++
			res.Failed++
		default:
			res.Skipped++
		}
	}

	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, at time.Time, msg *Message) string {
	claimed, err := d.repo.ClaimMessage(ctx, msg.ID, msg.Attempts, d.workerID, at, d.lease)
	if err != nil {
		d.metrics.recordSkipped(ctx, msg.Kind)
		if errors.Is(err, ErrNotClaimed) {
			d.logger.DebugContext(ctx, "message claimed elsewhere, skipping",
				logger.MessageID(msg.ID),
				logger.Kind(string(msg.Kind)))
			return outcomeSkipped
		}
		d.logger.ErrorContext(ctx, "failed to claim message",
			logger.MessageID(msg.ID),
			logger.Kind(string(msg.Kind)),
			logger.Error(err))
		return outcomeSkipped
	}

	ctx, span := d.tracer.Start(ctx, "mailqueue.deliver", trace.WithAttributes(
		attribute.String("mailqueue.message_id", claimed.ID.String()),
		attribute.String("mailqueue.kind", string(claimed.Kind)),
		attribute.Int("mailqueue.attempts", claimed.Attempts),
	))
	defer span.End()

	started := time.Now()
	deliverErr := d.deliver(ctx, claimed)
	elapsed := time.Since(started)
	finishedAt := at.Add(elapsed)

	if deliverErr != nil {
		span.RecordError(deliverErr)
		span.SetStatus(codes.Error, deliverErr.Error())
		d.metrics.recordDelivery(ctx, claimed.Kind, outcomeFailed, elapsed)
		d.recordFailure(ctx, claimed, at, finishedAt, deliverErr)
		return outcomeFailed
	}

	span.SetStatus(codes.Ok, "")
	d.metrics.recordDelivery(ctx, claimed.Kind, outcomeSent, elapsed)

	storeCtx, cancel := d.storeContext(ctx)
	defer cancel()
	if err := d.repo.MarkSent(storeCtx, claimed.ID, d.workerID, finishedAt); err != nil {
		// The transport accepted the message but the transition was not recorded.
		// Once the lease expires the message is delivered again: the accepted
		// at-least-once duplicate.
		d.logger.ErrorContext(ctx, "message delivered but not marked as sent",
			logger.MessageID(claimed.ID),
			logger.Kind(string(claimed.Kind)),
			logger.Error(err))
		return outcomeSent
	}

	d.logger.InfoContext(ctx, "message sent",
		logger.MessageID(claimed.ID),
		logger.Kind(string(claimed.Kind)),
		logger.Attempts(claimed.Attempts+1),
		logger.Duration(elapsed))

	return outcomeSent
}

// deliver invokes the transport for msg.Kind with a hard timeout. The call runs
// detached from cycle cancellation so a shutdown does not abort an in-flight
// delivery halfway; the timeout still bounds it.
func (d *Dispatcher) deliver(ctx context.Context, msg *Message) error {
	transport, ok := d.registry.Lookup(msg.Kind)
	if !ok {
		d.logger.ErrorContext(ctx, "no transport registered for message kind, check the registry configuration",
			logger.MessageID(msg.ID),
			logger.Kind(string(msg.Kind)))
		return fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%w: %v", ErrTransportPanic, r)
			}
		}()
		errCh <- transport.Deliver(callCtx, msg.Payload)
	}()

	select {
	case err := <-errCh:
		return err
	case <-callCtx.Done():
		return fmt.Errorf("%w after %s", ErrDeliveryTimeout, d.timeout)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, msg *Message, claimedAt, failedAt time.Time, deliverErr error) {
	attempts := msg.Attempts + 1

	var holdLease *time.Time
	if errors.Is(deliverErr, ErrDeliveryTimeout) {
		until := claimedAt.Add(d.lease)
		if msg.LockedUntil != nil {
			until = *msg.LockedUntil
		}
		holdLease = &until
	}

	storeCtx, cancel := d.storeContext(ctx)
	defer cancel()

	err := d.repo.MarkFailed(storeCtx, Failure{
		MessageID:      msg.ID,
		WorkerID:       d.workerID,
		AttemptedAt:    failedAt,
		NextAttemptAt:  d.policy.NextAttemptAt(failedAt, attempts),
		Error:          deliverErr.Error(),
		HoldLeaseUntil: holdLease,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record delivery failure",
			logger.MessageID(msg.ID),
			logger.Kind(string(msg.Kind)),
			logger.Errors(deliverErr, err))
		return
	}

	attrs := []any{
		logger.MessageID(msg.ID),
		logger.Kind(string(msg.Kind)),
		logger.Attempts(attempts),
		logger.Error(deliverErr),
	}
	if d.policy.Exhausted(attempts) {
		d.logger.WarnContext(ctx, "message reached the retry ceiling and will not be retried", attrs...)
		return
	}
	d.logger.WarnContext(ctx, "message delivery failed, will retry", attrs...)
}

// storeContext outlives cycle cancellation: a transition for a message whose
// transport call already happened must still be committed.
func (d *Dispatcher) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.storeTimeout)
}
