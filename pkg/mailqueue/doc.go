// Package mailqueue defers outbound notifications: producers persist a message
// and return immediately, and a periodic dispatch cycle delivers it later
// through the transport registered for its kind.
//
// The package is organised around four components that interact only through
// small repository interfaces:
//
//   - Enqueuer   - persists a pending message; never touches a transport
//   - Select     - returns the eligible batch for a set of Criteria, oldest first
//   - Dispatcher - claims each message, calls its transport and records the outcome
//   - Driver     - runs cycles on a fixed interval or on demand
//
// # Delivery semantics
//
// Delivery is at-least-once. Before calling a transport the dispatcher takes a
// short claim lease on the message with a conditional update (still pending,
// attempts unchanged, no active lease). Concurrent cycles that lose the claim skip
// the message, so two cycles never call the transport for the same attempt. The
// only duplicate window is a transport that accepted the message followed by a
// failed MarkSent.
//
// A failed attempt increments attempts and leaves the message pending. When
// attempts reaches the retry ceiling the message is no longer selected. It stays
// pending and is visible through Stats and the mailqueue.exhausted gauge.
//
// # Usage
//
//	repo := mailqueue.NewMemoryStorage()
//
//	registry := mailqueue.NewRegistry()
//	registry.MustRegister("welcome", mailqueue.NewTransport(func(ctx context.Context, p WelcomePayload) error {
//	    return sender.SendEmail(ctx, p.Params())
//	}))
//
//	enq, _ := mailqueue.NewEnqueuer(repo, mailqueue.WithKnownKinds(registry))
//	_, _ = enq.Enqueue(ctx, user.ID.String(), "welcome", WelcomePayload{To: user.Email})
//
//	dispatcher, _ := mailqueue.NewDispatcher(repo, registry)
//	driver, _ := mailqueue.NewDriver(repo, dispatcher, mailqueue.WithPollInterval(time.Minute))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(driver.Run(ctx))
//
// Storage backends live in the pgstorage and mongostorage subpackages.
// MemoryStorage is provided for tests and local development.
package mailqueue
