package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/modules/payments"
	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/lock"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/mongo"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/sweep"
)

type appConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// StorageBackend selects account/ledger persistence: memory, mongo or
	// postgres.
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	MongoDatabase  string `env:"MONGODB_DATABASE" envDefault:"billingkit"`

	PlansPath string `env:"PLANS_PATH" envDefault:"plans.yaml"`

	// RedisLock switches the per-account lock from in-process to Redis,
	// required when more than one instance handles webhooks.
	RedisLock bool `env:"REDIS_LOCK_ENABLED" envDefault:"false"`

	MercadoPagoEnabled bool `env:"MERCADOPAGO_ENABLED" envDefault:"false"`
	StripeEnabled      bool `env:"STRIPE_ENABLED" envDefault:"false"`
	NotifyEnabled      bool `env:"NOTIFY_ENABLED" envDefault:"false"`

	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"0 * * * *"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Env, "billingd"))
	logger.SetAsDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("billingd exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	catalog, err := billing.LoadCatalogFile(cfg.PlansPath)
	if err != nil {
		return err
	}

	stores, auditStorage, readiness, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	auditor := audit.NewLogger(auditStorage)

	locker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}

	registry, err := openGateways(cfg, log)
	if err != nil {
		return err
	}

	reconcilerOpts := []reconcile.Option{}
	if cfg.NotifyEnabled {
		var mailCfg notify.Config
		if err := config.Load(&mailCfg); err != nil {
			return err
		}
		mailer, err := notify.NewMailer(mailCfg, log)
		if err != nil {
			return err
		}
		reconcilerOpts = append(reconcilerOpts, reconcile.WithNotifier(mailer))
	}

	reconciler := reconcile.New(stores, stores, stores, locker, auditor, catalog, log, reconcilerOpts...)

	svc := payments.NewService(stores, registry, reconciler, catalog, auditor, accountFromHeader(stores), log)

	sweeper := sweep.New(stores, locker, auditor, log, sweep.WithSchedule(cfg.SweepSchedule))
	go func() {
		if err := sweeper.Start(ctx); err != nil {
			log.Error("expiry sweeper stopped", logger.Error(err))
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", httpserver.HealthCheckHandler(ctx, log, readiness...))
	r.Mount("/payments", svc.Handle())

	srv := httpserver.New(
		httpserver.WithAddr(cfg.Addr),
		httpserver.WithLogger(log),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("billingd listening", slog.String("addr", cfg.Addr))
		}),
	)
	return srv.Run(ctx, r)
}

// storageBundle is the common shape of every billing store backend.
type storageBundle interface {
	billing.AccountStore
	billing.TransactionStore
	billing.PaymentRefStore
}

func openStorage(ctx context.Context, cfg appConfig, log *slog.Logger) (storageBundle, audit.Storage, []func(context.Context) error, error) {
	switch cfg.StorageBackend {
	case "mongo":
		var mongoCfg mongo.Config
		if err := config.Load(&mongoCfg); err != nil {
			return nil, nil, nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, mongoCfg, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		store := billing.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, nil, err
		}
		ready := []func(context.Context) error{mongo.Healthcheck(db.Client())}
		return store, audit.NewMongoStorage(db), ready, nil

	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, nil, nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		store := billing.NewPGStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		ready := []func(context.Context) error{pg.Healthcheck(pool)}
		return store, audit.NewPGStorage(pool), ready, nil

	case "memory":
		log.Warn("using in-memory storage, state is lost on restart")
		return billing.NewMemoryStore(), audit.NewMemoryStorage(), nil, nil

	default:
		return nil, nil, nil, errUnknownBackend(cfg.StorageBackend)
	}
}

func openLocker(ctx context.Context, cfg appConfig) (lock.Locker, error) {
	if !cfg.RedisLock {
		return lock.NewMemoryLocker(), nil
	}
	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return nil, err
	}
	client, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client), nil
}

// openGateways builds the provider registry. A provider with missing or
// invalid credentials is disabled with a log line; the service still
// starts with whatever providers remain.
func openGateways(cfg appConfig, log *slog.Logger) (*gateway.Registry, error) {
	var adapters []gateway.Adapter

	if cfg.MercadoPagoEnabled {
		var mpCfg gateway.MercadoPagoConfig
		if err := config.Load(&mpCfg); err != nil {
			log.Error("mercadopago disabled, configuration invalid", logger.Error(err))
		} else if adapter, err := gateway.NewMercadoPago(mpCfg); err != nil {
			log.Error("mercadopago disabled", logger.Error(err))
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if cfg.StripeEnabled {
		var stripeCfg gateway.StripeConfig
		if err := config.Load(&stripeCfg); err != nil {
			log.Error("stripe disabled, configuration invalid", logger.Error(err))
		} else if adapter, err := gateway.NewStripe(stripeCfg); err != nil {
			log.Error("stripe disabled", logger.Error(err))
		} else {
			adapters = append(adapters, adapter)
		}
	}

	return gateway.NewRegistry(adapters...), nil
}

// accountFromHeader resolves the caller from the X-Account-ID header set
// by the authenticating reverse proxy. Deployments with in-process auth
// swap in their own loader.
func accountFromHeader(accounts billing.AccountStore) func(r *http.Request) (*billing.Account, error) {
	return func(r *http.Request) (*billing.Account, error) {
		id, err := uuid.Parse(r.Header.Get("X-Account-ID"))
		if err != nil {
			return nil, err
		}
		return accounts.Get(r.Context(), id)
	}
}

type errUnknownBackend string

func (e errUnknownBackend) Error() string {
	return "unknown storage backend: " + string(e)
}
