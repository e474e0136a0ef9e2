// Package api exposes the queue over HTTP with a chi router: an on-demand
// trigger for external schedulers, an enqueue endpoint for producers in other
// processes, operator stats and health checks.
//
// A cron job can drive delivery instead of the in-process poller:
//
//	curl -X POST -H "Authorization: Bearer $TRIGGER_TOKEN" \
//	    "http://localhost:8080/process-emails?limit=20&delay_minutes=2"
//
// WithRateLimiter throttles the authenticated routes; denied requests get
// 429 with a Retry-After header.
package api
