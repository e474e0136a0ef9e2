// Package email sends transactional messages through a pluggable EmailSender.
//
// Three senders are provided:
//   - DevSender writes .html, .txt and .json files to a local directory
//   - the Postmark client delivers through Postmark's HTTP API
//   - the SMTP sender relays through any SMTP server, upgrading with STARTTLS
//     when offered and adding a DKIM-Signature when a DKIMSigner is configured
//
// NewSender picks one from Config.Provider:
//
//	var cfg email.Config
//	config.MustLoad(&cfg)
//	sender, err := email.NewSender(cfg)
//	if err != nil {
//	    return err
//	}
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "user@example.com",
//	    Subject:  "Welcome!",
//	    BodyText: "Thanks for signing up.",
//	    BodyHTML: "<p>Thanks for signing up.</p>",
//	    Tag:      "welcome",
//	})
//
// Every sender validates SendEmailParams first and returns ErrInvalidParams
// without any I/O. Delivery failures wrap ErrFailedToSendEmail.
package email
