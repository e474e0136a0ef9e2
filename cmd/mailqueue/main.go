// Command mailqueue runs the deferred delivery queue: an HTTP API with a
// background dispatcher, or one-off operator commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/mailqueue/pkg/api"
	"github.com/dmitrymomot/mailqueue/pkg/config"
	"github.com/dmitrymomot/mailqueue/pkg/environment"
	"github.com/dmitrymomot/mailqueue/pkg/logger"
)

var errUsage = errors.New("usage")

const usageText = `Usage: mailqueue <command> [flags]

Commands:
  serve                 run the HTTP API and the background dispatcher
  process               run one dispatch cycle
      --limit N             maximum messages to process (default 20)
      --delay-minutes N     only process messages older than N minutes (default 2)
  test-email <address>  send a test email directly through the configured transport
  stats                 print pending, sent and exhausted counts
  migrate               prepare the storage schema
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, newApp); err != nil {
		if errors.Is(err, errUsage) {
			if err != errUsage {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// builder constructs the application for a command.
type builder func(ctx context.Context, cfg appConfig, log *slog.Logger) (*app, error)

func run(ctx context.Context, args []string, stdout, stderr io.Writer, build builder) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stdout, usageText)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(environment.Parse(cfg.Env), cfg.Name),
		logger.WithConfig(cfg.Log),
		logger.WithOutput(stderr),
		logger.WithContextExtractors(api.RequestIDExtractor()),
	)
	logger.SetAsDefault(log)

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve", "process", "test-email", "stats", "migrate":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usageText)
		return errUsage
	}

	a, err := build(ctx, cfg, log.With(logger.Component(cmd)))
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd {
	case "serve":
		return cmdServe(ctx, a)
	case "process":
		return cmdProcess(ctx, a, rest, stdout, stderr)
	case "test-email":
		return cmdTestEmail(ctx, a, rest, stdout)
	case "stats":
		return cmdStats(ctx, a, stdout)
	default:
		return cmdMigrate(ctx, a, stdout)
	}
}
