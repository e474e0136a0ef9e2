package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dmitrymomot/mailqueue/internal/db/migrations"
	"github.com/dmitrymomot/mailqueue/pkg/email"
	"github.com/dmitrymomot/mailqueue/pkg/httpserver"
	"github.com/dmitrymomot/mailqueue/pkg/leader"
	"github.com/dmitrymomot/mailqueue/pkg/logger"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue/mongostorage"
	"github.com/dmitrymomot/mailqueue/pkg/mailqueue/pgstorage"
	"github.com/dmitrymomot/mailqueue/pkg/mongo"
	"github.com/dmitrymomot/mailqueue/pkg/notify"
	"github.com/dmitrymomot/mailqueue/pkg/pg"
	"github.com/dmitrymomot/mailqueue/pkg/ratelimiter"
	"github.com/dmitrymomot/mailqueue/pkg/redis"
)

const (
	storagePostgres = "postgres"
	storageMongo    = "mongo"
	storageMemory   = "memory"
)

type appConfig struct {
	Env           string `env:"APP_ENV" envDefault:"development"`
	Name          string `env:"APP_NAME" envDefault:"mailqueue"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	AutoMigrate   bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	Background    bool   `env:"MAILQUEUE_BACKGROUND" envDefault:"true"`
	TriggerToken  string `env:"TRIGGER_TOKEN"`

	Log       logger.Config
	Queue     mailqueue.Config
	PG        pg.Config
	Mongo     mongo.Config
	Redis     redis.Config
	Email     email.Config
	Notify    notify.Config
	HTTP      httpserver.Config
	RateLimit ratelimiter.Config
}

type app struct {
	cfg        appConfig
	log        *slog.Logger
	repo       mailqueue.Repository
	sender     email.EmailSender
	registry   *mailqueue.Registry
	enqueuer   *mailqueue.Enqueuer
	dispatcher *mailqueue.Dispatcher
	driver     *mailqueue.Driver
	limiter    *ratelimiter.Limiter
	checks     []httpserver.Check
	migrate    func(context.Context) error
	closers    []func()
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newApp(ctx context.Context, cfg appConfig, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if cfg.AutoMigrate && a.migrate != nil {
		if err := a.migrate(ctx); err != nil {
			return nil, err
		}
	}

	if a.sender, err = email.NewSender(cfg.Email); err != nil {
		return nil, err
	}

	notifyOpts := []notify.Option{notify.WithLogger(log)}
	nc, err := notify.ConnectNATS(cfg.Notify.NATSURL, cfg.Name)
	if err != nil {
		return nil, err
	}
	if nc != nil {
		a.closers = append(a.closers, func() { _ = nc.Drain() })
		notifyOpts = append(notifyOpts, notify.WithPublisher(nc, cfg.Notify.NATSSubject))
	}

	a.registry = mailqueue.NewRegistry()
	if err := notify.Register(a.registry, a.sender, notifyOpts...); err != nil {
		return nil, err
	}

	if a.enqueuer, err = mailqueue.NewEnqueuer(a.repo,
		mailqueue.WithKnownKinds(a.registry),
		mailqueue.WithEnqueuerLogger(log),
	); err != nil {
		return nil, err
	}

	dispatcherOpts := append(cfg.Queue.DispatcherOptions(),
		mailqueue.WithDispatcherLogger(log),
		mailqueue.WithMeterProvider(otel.GetMeterProvider()),
		mailqueue.WithTracerProvider(otel.GetTracerProvider()),
	)
	if a.dispatcher, err = mailqueue.NewDispatcher(a.repo, a.registry, dispatcherOpts...); err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.Redis.ConnectionURL != "" {
		if rdb, err = a.openRedis(ctx); err != nil {
			return nil, err
		}
	}

	driverOpts := append(cfg.Queue.DriverOptions(), mailqueue.WithDriverLogger(log))
	if rdb != nil {
		lease, err := a.openLeaderLease(rdb)
		if err != nil {
			return nil, err
		}
		driverOpts = append(driverOpts, mailqueue.WithLeaderCheck(lease.IsLeader))
	}
	if cfg.RateLimit.Enabled() {
		if a.limiter, err = a.openRateLimiter(rdb); err != nil {
			return nil, err
		}
	}
	if a.driver, err = mailqueue.NewDriver(a.repo, a.dispatcher, driverOpts...); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.StorageDriver {
	case storagePostgres:
		pool, err := pg.Connect(ctx, a.cfg.PG)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.repo = pgstorage.New(pool)
		a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
		a.migrate = func(ctx context.Context) error {
			return pg.Migrate(ctx, pool, a.cfg.PG, migrations.FS, a.log)
		}

	case storageMongo:
		client, err := mongo.Connect(ctx, a.cfg.Mongo)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		store := mongostorage.New(client.Database(a.cfg.Mongo.Database).Collection(mongostorage.DefaultCollection))
		a.repo = store
		a.checks = append(a.checks, httpserver.Check{Name: "mongodb", Fn: mongo.Healthcheck(client)})
		a.migrate = store.EnsureIndexes

	case storageMemory:
		a.repo = mailqueue.NewMemoryStorage()

	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q (want %s, %s or %s)",
			a.cfg.StorageDriver, storagePostgres, storageMongo, storageMemory)
	}
	return nil
}

func (a *app) openRedis(ctx context.Context) (*goredis.Client, error) {
	client, err := redis.Connect(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	return client, nil
}

func (a *app) openLeaderLease(client *goredis.Client) (*leader.Lease, error) {
	lease, err := leader.New(client,
		leader.WithKey(a.cfg.Name+":leader"),
		leader.WithTTL(3*a.cfg.Queue.PollInterval),
		leader.WithLogger(a.log),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lease.Release(ctx)
	})
	return lease, nil
}

// openRateLimiter shares buckets through Redis when it is configured.
func (a *app) openRateLimiter(client *goredis.Client) (*ratelimiter.Limiter, error) {
	var store ratelimiter.Store
	if client != nil {
		rs, err := ratelimiter.NewRedisStore(client, ratelimiter.WithKeyPrefix(a.cfg.Name+":ratelimit:"))
		if err != nil {
			return nil, err
		}
		store = rs
	} else {
		ms := ratelimiter.NewMemoryStore()
		a.closers = append(a.closers, ms.Close)
		store = ms
	}
	return ratelimiter.New(store, a.cfg.RateLimit)
}
