package mailqueue

import "time"

// Config holds the configuration for the deferred delivery queue
type Config struct {
	PollInterval    time.Duration   `env:"MAILQUEUE_POLL_INTERVAL" envDefault:"1m"`
	MinAge          time.Duration   `env:"MAILQUEUE_MIN_AGE" envDefault:"2m"`
	RetryCeiling    int             `env:"MAILQUEUE_RETRY_CEILING" envDefault:"5"`
	BatchSize       int             `env:"MAILQUEUE_BATCH_SIZE" envDefault:"20"`
	DeliveryTimeout time.Duration   `env:"MAILQUEUE_DELIVERY_TIMEOUT" envDefault:"30s"`
	ClaimLease      time.Duration   `env:"MAILQUEUE_CLAIM_LEASE" envDefault:"5m"`
	Backoff         BackoffStrategy `env:"MAILQUEUE_BACKOFF" envDefault:"none"`
	BackoffBase     time.Duration   `env:"MAILQUEUE_BACKOFF_BASE" envDefault:"1m"`
	BackoffMax      time.Duration   `env:"MAILQUEUE_BACKOFF_MAX" envDefault:"1h"`
}

// RetryPolicy builds the dispatcher retry policy from the config.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryCeiling: c.RetryCeiling,
		Strategy:     c.Backoff,
		Base:         c.BackoffBase,
		Max:          c.BackoffMax,
	}
}

// DispatcherOptions translates the config into dispatcher options.
func (c Config) DispatcherOptions() []DispatcherOption {
	return []DispatcherOption{
		WithRetryPolicy(c.RetryPolicy()),
		WithDeliveryTimeout(c.DeliveryTimeout),
		WithClaimLease(c.ClaimLease),
	}
}

// DriverOptions translates the config into driver options.
func (c Config) DriverOptions() []DriverOption {
	return []DriverOption{
		WithPollInterval(c.PollInterval),
		WithMinAge(c.MinAge),
		WithRetryCeiling(c.RetryCeiling),
		WithBatchSize(c.BatchSize),
	}
}
