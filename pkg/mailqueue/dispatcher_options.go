package mailqueue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DispatcherOption is a functional option for configuring a Dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	policy          RetryPolicy
	workerID        uuid.UUID
	deliveryTimeout time.Duration
	claimLease      time.Duration
	storeTimeout    time.Duration
	logger          *slog.Logger
	meterProvider   metric.MeterProvider
	tracerProvider  trace.TracerProvider
}

// WithRetryPolicy sets the policy applied after a failed attempt
func WithRetryPolicy(p RetryPolicy) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.policy = p
	}
}

// WithWorkerID pins the identity written into claim leases
func WithWorkerID(id uuid.UUID) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.workerID = id
	}
}

// WithDeliveryTimeout bounds every transport call; a timeout is a failed attempt
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.deliveryTimeout = d
		}
	}
}

// WithClaimLease sets how long a claimed message stays reserved for this dispatcher
func WithClaimLease(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.claimLease = d
		}
	}
}

// WithStoreTimeout bounds the storage update that follows a transport call
func WithStoreTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider enables OpenTelemetry metrics for deliveries
func WithMeterProvider(mp metric.MeterProvider) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.meterProvider = mp
	}
}

// WithTracerProvider enables OpenTelemetry spans for deliveries
func WithTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.tracerProvider = tp
	}
}
