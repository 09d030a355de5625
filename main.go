package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alexsandroveiga/pasarela/src/api"
	"github.com/alexsandroveiga/pasarela/src/configuration/database/redis"
	"github.com/alexsandroveiga/pasarela/src/configuration/database/sqlite"
	"github.com/alexsandroveiga/pasarela/src/configuration/env"
	"github.com/alexsandroveiga/pasarela/src/configuration/logger"
	"github.com/alexsandroveiga/pasarela/src/configuration/storage"
	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/health"
	"github.com/alexsandroveiga/pasarela/src/idempotency"
	"github.com/alexsandroveiga/pasarela/src/messaging"
	"github.com/alexsandroveiga/pasarela/src/provider"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/routing"
	"github.com/alexsandroveiga/pasarela/src/scheduler"
	"github.com/alexsandroveiga/pasarela/src/service"
	"github.com/alexsandroveiga/pasarela/src/util"
	"github.com/alexsandroveiga/pasarela/src/worker"
)

type stores struct {
	intents   repository.IntentStore
	decisions repository.DecisionLog
	events    repository.EventLog
	checkout  repository.CheckoutConfigStore
	configs   repository.ProviderConfigStore
}

func main() {
	cfg, err := env.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("load configuration")
	}
	logger.Init(cfg.LogLevel, os.Getenv("LOG_PRETTY") == "true")
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *goredis.Client
	if cfg.RedisURL != "" {
		client, err = redis.NewRedisConnection(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error trying to connect to redis")
		}
		defer client.Close()
	}

	st := stores{
		intents:   repository.NewPaymentRepository(),
		decisions: repository.NewDecisionLog(),
		events:    repository.NewEventLog(),
		checkout:  repository.NewCheckoutConfigStore(),
		configs:   repository.NewProviderConfigStore(),
	}
	if cfg.Storage == "sqlite" {
		var db *sql.DB
		db, err = sqlite.NewSQLiteConnection(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("open sqlite")
		}
		defer db.Close()
		if err := sqlite.RunMigrations(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		st = stores{
			intents:   repository.NewSQLitePaymentRepository(db),
			decisions: repository.NewSQLiteDecisionLog(db),
			events:    repository.NewSQLiteEventLog(db),
			checkout:  repository.NewSQLiteCheckoutConfigStore(db),
			configs:   repository.NewSQLiteProviderConfigStore(db),
		}
	}

	kv := storage.NewInMemoryStorage()
	var (
		healthCache util.HealthCache               = util.NewInMemoryHealthCache(kv)
		records     idempotency.Store              = idempotency.NewInMemoryStore(kv)
		callbacks   messaging.CallbackQueue        = messaging.NewChannelCallbackQueue(10000)
		configs     repository.ProviderConfigStore = st.configs
	)
	if client != nil {
		healthCache = util.NewRedisHealthCache(client)
		records = idempotency.NewRedisStore(client)
		callbacks = messaging.NewRedisCallbackQueue(client)
		if cfg.Storage == "memory" {
			configs = repository.NewRedisProviderConfigStore(client)
		}
	}

	demo := provider.NewDemo(cfg.FrontendURL)
	adapters := provider.NewRegistry(
		demo,
		provider.NewStripe(cfg.Providers.Stripe.BaseURL),
		provider.NewAdyen(cfg.Providers.Adyen.BaseURL, cfg.FrontendURL),
		provider.NewStub(domain.ProviderMastercard),
		provider.NewStub(domain.ProviderPaypal),
	)
	liveness := util.NewHealthChecker(cfg.Providers.HealthURLs(), healthCache, cfg.HealthCacheTTL, logger.WithComponent("liveness"))
	registry := health.NewRegistry(
		configs,
		cfg.Providers.Configs(),
		adapters.Implemented,
		liveness,
		health.NewBreaker(health.DefaultFailureThreshold, health.DefaultOpenTTL).WithLogger(logger.WithComponent("breaker")),
	)
	engine := routing.NewEngine(registry, st.decisions, cfg.Routing.Priority, cfg.Routing.DemoFallback, logger.WithComponent("routing"))
	guard := idempotency.NewGuard(records, cfg.Idempotency.TTL, cfg.Idempotency.Wait, logger.WithComponent("idempotency"))

	intents := service.NewPaymentIntents(service.Dependencies{
		Intents:         st.intents,
		Events:          st.events,
		Checkout:        st.checkout,
		Guard:           guard,
		Router:          engine,
		Health:          registry,
		Adapters:        adapters,
		Demo:            demo,
		ProviderTimeout: cfg.ProviderTimeout,
		MaxAttempts:     cfg.MaxAttempts,
		Log:             logger.WithComponent("intents"),
	})

	pool := worker.NewCallbackPool(callbacks, intents, cfg.WorkerCount, logger.WithComponent("worker"))
	pool.Start(ctx)

	jobs := scheduler.NewScheduler(logger.WithComponent("scheduler"))
	if err := jobs.ScheduleProbe(ctx, cfg.ProbeSchedule, liveness, 10*time.Second); err != nil {
		log.Fatal().Err(err).Msg("schedule liveness probe")
	}
	if err := jobs.ScheduleSweep("@every 1m", "kv", kv); err != nil {
		log.Fatal().Err(err).Msg("schedule sweep")
	}
	jobs.Start()

	app := api.NewApp(api.Config{
		Intents:         intents,
		Providers:       registry,
		ProviderConfigs: configs,
		Decisions:       st.decisions,
		Callbacks:       callbacks,
		MerchantKeys:    cfg.MerchantKeys,
		AdminToken:      cfg.AdminToken,
		Log:             logger.WithComponent("http"),
	})

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown http")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("storage", cfg.Storage).
		Bool("redis", client != nil).
		Msg("starting pasarela")
	if err := app.Listen(cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		log.Error().Err(err).Msg("listen")
	}

	stop()
	jobs.Stop()
	pool.Wait()
}
