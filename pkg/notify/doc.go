// Package notify defines the notification kinds carried by the queue and
// the transports that deliver them.
//
// Producers render content up front and enqueue it:
//
//	notify.SafeEnqueueWelcome(ctx, enqueuer, log, user.ID.String(), notify.WelcomePayload{
//	    To:          user.Email,
//	    Subject:     "Welcome!",
//	    TextContent: text,
//	    HTMLContent: html,
//	})
//
// The dispatching process registers the transports once at startup:
//
//	reg := mailqueue.NewRegistry()
//	if err := notify.Register(reg, sender, notify.WithPublisher(nc, "mailqueue.admin")); err != nil {
//	    return err
//	}
package notify
