// Package pg bootstraps the PostgreSQL connection used by the message store.
//
// Connect opens a pgxpool.Pool from an env-tagged Config and retries while the
// database is starting. Migrate applies the goose migrations (embedded from
// internal/db/migrations by default) through pgx's database/sql bridge.
// Healthcheck returns a check for the readiness endpoint.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, log); err != nil {
//	    return err
//	}
package pg
