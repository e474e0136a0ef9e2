// Package httpserver runs an http.Handler with context-driven graceful
// shutdown and provides liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g.Go(func() error { return srv.Run(ctx, router) })
//
// Run returns when ctx is cancelled, after in-flight requests finish or the
// shutdown timeout elapses.
package httpserver
