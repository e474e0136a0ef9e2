package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/mailqueue/pkg/api"
	"github.com/dmitrymomot/mailqueue/pkg/email"
	"github.com/dmitrymomot/mailqueue/pkg/httpserver"
)

func cmdServe(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := httpserver.NewFromConfig(a.cfg.HTTP, httpserver.WithLogger(a.log))
	router := api.NewRouter(a.driver, a.enqueuer,
		api.WithTriggerToken(a.cfg.TriggerToken),
		api.WithLogger(a.log),
		api.WithReadinessChecks(a.checks...),
		api.WithRateLimiter(a.limiter),
	)
	g.Go(func() error { return srv.Run(ctx, router) })

	if a.cfg.Background {
		g.Go(a.driver.Run(ctx))
	} else {
		a.log.InfoContext(ctx, "background dispatch disabled; use POST /process-emails")
	}

	return g.Wait()
}

func cmdProcess(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "maximum number of messages to process")
	delay := fs.Int("delay-minutes", 2, "only process messages older than N minutes")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", *limit)
	}
	if *delay < 0 || int64(*delay) > math.MaxInt64/int64(time.Minute) {
		return fmt.Errorf("--delay-minutes must be between 0 and %d, got %d", math.MaxInt64/int64(time.Minute), *delay)
	}

	c := a.driver.Criteria(time.Now().UTC())
	c.BatchSize = *limit
	c.MinAge = time.Duration(*delay) * time.Minute

	res, err := a.driver.RunCycle(ctx, c)
	if err != nil {
		return err
	}
	if res.Selected == 0 {
		fmt.Fprintln(stdout, "No pending emails to send.")
		return nil
	}
	fmt.Fprintf(stdout, "Processed %d emails: %d sent, %d failed\n", res.Attempted, res.Sent, res.Failed)
	if res.Skipped > 0 {
		fmt.Fprintf(stdout, "Skipped %d emails claimed by another worker\n", res.Skipped)
	}
	return nil
}

func cmdTestEmail(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: test-email <address>", errUsage)
	}
	to := args[0]

	fmt.Fprintln(stdout, "Testing email configuration...")
	fmt.Fprintf(stdout, "EMAIL_PROVIDER: %s\n", a.cfg.Email.Provider)
	fmt.Fprintf(stdout, "SENDER_EMAIL: %s\n", a.cfg.Email.SenderEmail)
	if a.cfg.Email.Provider == email.ProviderSMTP {
		fmt.Fprintf(stdout, "SMTP_HOST: %s\n", a.cfg.Email.SMTPHost)
		fmt.Fprintf(stdout, "SMTP_PORT: %d\n", a.cfg.Email.SMTPPort)
		fmt.Fprintf(stdout, "SMTP_USERNAME: %s\n", a.cfg.Email.SMTPUsername)
	}
	fmt.Fprintf(stdout, "\nSending test email to %s...\n", to)

	err := a.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  "Test Email from " + a.cfg.Name,
		BodyText: "This is a test email from " + a.cfg.Name + ". If you receive this, email is working!",
		Tag:      "test",
	})
	if err != nil {
		return fmt.Errorf("failed to send test email: %w", err)
	}

	fmt.Fprintf(stdout, "Test email sent successfully to %s\n", to)
	return nil
}

func cmdStats(ctx context.Context, a *app, stdout io.Writer) error {
	st, err := a.driver.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pending:   %d\nsent:      %d\nexhausted: %d\n", st.Pending, st.Sent, st.Exhausted)
	return nil
}

func cmdMigrate(ctx context.Context, a *app, stdout io.Writer) error {
	if a.migrate == nil {
		fmt.Fprintf(stdout, "Nothing to migrate for storage %q\n", a.cfg.StorageDriver)
		return nil
	}
	if err := a.migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Storage %q is up to date\n", a.cfg.StorageDriver)
	return nil
}
