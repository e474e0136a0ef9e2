// Package logger builds the service's *slog.Logger and holds the attribute
// helpers used across the queue, storage and transport packages.
//
// New wraps a JSON or text handler with LogHandlerDecorator, which adds
// attributes pulled from the context (for example the chi request id) on
// every call. Helpers such as MessageID, Kind and Attempts keep attribute
// keys consistent:
//
//	log := logger.New(
//	    logger.WithEnvironment(environment.Production, "mailqueue"),
//	    logger.WithConfig(cfg.Log),
//	)
//	log.WarnContext(ctx, "message delivery failed, will retry",
//	    logger.MessageID(msg.ID),
//	    logger.Kind(string(msg.Kind)),
//	    logger.Attempts(msg.Attempts),
//	    logger.Error(err),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed without a nil check.
package logger
