package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/mailqueue/pkg/httpserver"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
	"github.com/dmitrymomot/mailqueue/pkg/ratelimiter"
)

// Driver is the part of *mailqueue.Driver served over HTTP.
type Driver interface {
	Criteria(now time.Time) mailqueue.Criteria
	RunCycle(ctx context.Context, c mailqueue.Criteria) (mailqueue.CycleResult, error)
	Stats(ctx context.Context) (mailqueue.Stats, error)
	LastRun() (time.Time, bool)
}

// Enqueuer is satisfied by *mailqueue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, recipientRef string, kind mailqueue.Kind, payload any) (uuid.UUID, error)
}

// Option configures the router.
type Option func(*handler)

// WithTriggerToken requires "Authorization: Bearer <token>" on every
// endpoint except the health checks. Empty leaves them open.
func WithTriggerToken(token string) Option {
	return func(h *handler) { h.token = token }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithReadinessChecks adds dependencies checked by /health/ready.
func WithReadinessChecks(checks ...httpserver.Check) Option {
	return func(h *handler) { h.checks = append(h.checks, checks...) }
}

// WithClock overrides the time used for on-demand cycles.
func WithClock(now func() time.Time) Option {
	return func(h *handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithMaxLimit caps the limit accepted by /process-emails.
func WithMaxLimit(n int) Option {
	return func(h *handler) {
		if n > 0 {
			h.maxLimit = n
		}
	}
}

// WithRateLimiter throttles the authenticated endpoints per route and client IP.
func WithRateLimiter(l *ratelimiter.Limiter) Option {
	return func(h *handler) { h.limiter = l }
}

type handler struct {
	driver   Driver
	enqueuer Enqueuer
	token    string
	logger   *slog.Logger
	checks   []httpserver.Check
	now      func() time.Time
	maxLimit int
	limiter  *ratelimiter.Limiter
}

// NewRouter builds the HTTP surface of the queue.
//
//	POST /process-emails   run one cycle now (?limit=&delay_minutes=)
//	POST /messages         enqueue a message
//	GET  /stats            pending, sent and exhausted counters
//	GET  /health/live      liveness
//	GET  /health/ready     readiness
func NewRouter(driver Driver, enqueuer Enqueuer, opts ...Option) http.Handler {
	h := &handler{
		driver:   driver,
		enqueuer: enqueuer,
		logger:   slog.Default(),
		now:      time.Now,
		maxLimit: 1000,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.HealthCheckHandler(h.logger, 0))
	r.Get("/health/ready", httpserver.HealthCheckHandler(h.logger, 5*time.Second, h.checks...))

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(h.token))
		if h.limiter != nil {
			r.Use(rateLimit(h.limiter, h.logger))
		}
		r.Post("/process-emails", h.processEmails)
		r.Post("/process-emails/", h.processEmails)
		r.Get("/stats", h.stats)
		r.Post("/messages", h.enqueue)
	})

	return r
}
