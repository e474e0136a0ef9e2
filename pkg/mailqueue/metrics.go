package mailqueue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName    = "github.com/dmitrymomot/mailqueue/pkg/mailqueue"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "mailqueue."
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

type metrics struct {
	meter     metric.Meter
	attempted metric.Int64Counter
	sent      metric.Int64Counter
	failed    metric.Int64Counter
	skipped   metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = metricnoop.NewMeterProvider()
	}
	meter := provider.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))

	m := &metrics{meter: meter}
	var err error

	if m.attempted, err = meter.Int64Counter(metricKeyPrefix+"dispatch.attempted",
		metric.WithDescription("Delivery attempts made by dispatch cycles"),
		metric.WithUnit("{messages}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch.attempted counter: %w", err)
	}
	if m.sent, err = meter.Int64Counter(metricKeyPrefix+"dispatch.sent",
		metric.WithDescription("Messages transitioned to sent"),
		metric.WithUnit("{messages}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch.sent counter: %w", err)
	}
	if m.failed, err = meter.Int64Counter(metricKeyPrefix+"dispatch.failed",
		metric.WithDescription("Failed delivery attempts"),
		metric.WithUnit("{messages}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch.failed counter: %w", err)
	}
	if m.skipped, err = meter.Int64Counter(metricKeyPrefix+"dispatch.skipped",
		metric.WithDescription("Messages skipped because another cycle claimed them"),
		metric.WithUnit("{messages}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch.skipped counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram(metricKeyPrefix+"delivery.duration",
		metric.WithDescription("Transport call duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delivery.duration histogram: %w", err)
	}

	return m, nil
}

func (m *metrics) recordDelivery(ctx context.Context, kind Kind, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	)
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)

	kindAttr := metric.WithAttributes(attribute.String("kind", string(kind)))
	m.attempted.Add(ctx, 1, kindAttr)
	switch outcome {
	case outcomeSent:
		m.sent.Add(ctx, 1, kindAttr)
	case outcomeFailed:
		m.failed.Add(ctx, 1, kindAttr)
	}
}

func (m *metrics) recordSkipped(ctx context.Context, kind Kind) {
	m.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

// registerExhaustedGauge reports the number of messages stuck at the retry ceiling.
func (m *metrics) registerExhaustedGauge(repo StatsRepository, retryCeiling int) error {
	_, err := m.meter.Int64ObservableGauge(metricKeyPrefix+"exhausted",
		metric.WithDescription("Pending messages that reached the retry ceiling"),
		metric.WithUnit("{messages}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			s, err := repo.Stats(ctx, retryCeiling)
			if err != nil {
				return err
			}
			o.Observe(s.Exhausted)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create exhausted gauge: %w", err)
	}
	return nil
}

func newTracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = tracenoop.NewTracerProvider()
	}
	return provider.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))
}
