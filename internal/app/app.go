package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/a11y-scan-service/internal/config"
	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/http/handlers"
	"github.com/Dhoini/a11y-scan-service/internal/integration/stripe"
	"github.com/Dhoini/a11y-scan-service/internal/kafka"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/middleware"
	"github.com/Dhoini/a11y-scan-service/internal/repository"
	"github.com/Dhoini/a11y-scan-service/internal/repository/postgres"
	"github.com/Dhoini/a11y-scan-service/internal/scanner"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps внешние зависимости приложения. В тестах подменяются in-memory реализациями.
type Deps struct {
	Users     repository.UserRepository
	Scans     repository.ScanRepository
	APIKeys   repository.APIKeyRepository
	Schedules repository.ScheduledScanRepository
	Audit     repository.AuditRepository
	Scanner   scanner.Scanner
	Billing   stripe.Client
	Publisher kafka.Publisher
	Registry  *prometheus.Registry
	Clock     service.Clock
	// Checks проверки для readiness
	Checks map[string]handlers.Pinger
}

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry

	Evaluator  *service.Evaluator
	Trials     *service.TrialService
	Scans      *service.ScanService
	APIKeys    *service.APIKeyService
	Schedules  *service.ScheduleService
	Plans      *service.PlanService
	Reconciler *service.BillingReconciler
	Sync       *service.BillingSync

	ScanHandler     *handlers.ScanHandler
	APIKeyHandler   *handlers.APIKeyHandler
	UserHandler     *handlers.UserHandler
	ScheduleHandler *handlers.ScheduleHandler
	CronHandler     *handlers.CronHandler
	HealthHandler   *handlers.HealthHandler
	// WebhookHandler nil, если секрет вебхука не задан
	WebhookHandler *handlers.WebhookHandler

	AuthMiddleware   *middleware.JWTMiddleware
	RateLimiter      *middleware.RateLimiter
	CronAuth         gin.HandlerFunc
	LoggerMiddleware gin.HandlerFunc

	closers []func() error
}

// Build собирает сервисы и обработчики поверх готовых зависимостей
func Build(cfg *config.Config, deps Deps, log *logger.Logger) *App {
	if deps.Clock == nil {
		deps.Clock = service.SystemClock()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Publisher == nil {
		deps.Publisher = kafka.NewNoopPublisher(log)
	}

	m := metrics.NewEntitlementMetrics(deps.Registry, log)
	prices := domain.NewPriceTable(cfg.Stripe.Prices.Pro, cfg.Stripe.Prices.Business, cfg.Stripe.Prices.Enterprise)
	loc := cfg.Location()

	usage := service.NewUsageCounters(deps.Scans, loc, cfg.Quota.CountFailedScans)
	evaluator := service.NewEvaluator(deps.Users, deps.APIKeys, deps.Schedules, usage, m, log)
	trials := service.NewTrialService(deps.Users, deps.Audit, deps.Publisher, m, deps.Clock, cfg.TrialDuration(), log)
	scans := service.NewScanService(evaluator, deps.Scans, deps.Scanner, deps.Publisher, m, deps.Clock, log)
	keys := service.NewAPIKeyService(evaluator, deps.APIKeys, deps.Audit, deps.Clock, log)
	schedules := service.NewScheduleService(evaluator, deps.Users, deps.Schedules, scans, deps.Publisher, loc, deps.Clock, cfg.Scheduler.Concurrency, log)
	plans := service.NewPlanService(deps.Users, usage, deps.Clock)
	sync := service.NewBillingSync(deps.Users, deps.Audit, deps.Publisher, prices, m, deps.Clock, log)

	a := &App{
		Config:    cfg,
		Logger:    log,
		Registry:  deps.Registry,
		Evaluator: evaluator,
		Trials:    trials,
		Scans:     scans,
		APIKeys:   keys,
		Schedules: schedules,
		Plans:     plans,
		Sync:      sync,

		ScanHandler:     handlers.NewScanHandler(scans, cfg.IsProduction(), log),
		APIKeyHandler:   handlers.NewAPIKeyHandler(keys, log),
		UserHandler:     handlers.NewUserHandler(trials, plans, log),
		ScheduleHandler: handlers.NewScheduleHandler(schedules, log),
		CronHandler:     handlers.NewCronHandler(trials, schedules, sync, log),
		HealthHandler:   handlers.NewHealthHandler(deps.Checks),

		RateLimiter:      middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log),
		CronAuth:         middleware.CronAuth(cfg.Cron.Secret, log),
		LoggerMiddleware: middleware.RequestLogger(log),
	}
	if deps.Billing != nil {
		a.Reconciler = service.NewBillingReconciler(deps.Users, deps.Audit, deps.Billing, prices, m, deps.Clock, log)
	}

	users := deps.Users
	a.AuthMiddleware = middleware.NewJWTMiddleware(log,
		&middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)},
		func(ctx context.Context, userID, email string) error {
			_, err := users.Ensure(ctx, userID, email)
			return err
		},
	)

	webhookHandler, err := handlers.NewWebhookHandler(cfg.Stripe.WebhookSecret, sync, log)
	if err != nil {
		log.Warnw("Stripe webhook endpoint disabled", "error", err)
	} else {
		a.WebhookHandler = webhookHandler
	}

	a.closers = append(a.closers, func() error { a.RateLimiter.Stop(); return nil }, deps.Publisher.Close)
	return a
}

// New поднимает инфраструктуру по конфигурации и собирает приложение
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	deps := Deps{
		Registry: prometheus.NewRegistry(),
		Checks:   map[string]handlers.Pinger{},
	}
	system := metrics.NewSystemMetrics(deps.Registry, log)
	system.StartRecording(15 * time.Second)

	closers := []func() error{func() error { system.Stop(); return nil }}
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if cfg.Database.DSN != "" {
		pool, err := postgres.NewConnection(ctx, cfg.Database.DSN, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool, log); err != nil {
			return fail(err)
		}

		db := postgres.NewSQLX(pool)
		deps.Users = postgres.NewUserRepository(db, log)
		deps.Scans = postgres.NewScanRepository(db, log)
		deps.APIKeys = postgres.NewAPIKeyRepository(db, log)
		deps.Schedules = postgres.NewScheduledScanRepository(db, log)
		deps.Audit = postgres.NewAuditRepository(db, log)
		deps.Checks["database"] = handlers.PingFunc(pool.Ping)
	} else {
		if cfg.IsProduction() {
			return fail(errors.New("database.dsn is required in production"))
		}
		log.Warnw("DATABASE_DSN is empty, using in-memory storage; data is lost on restart")
		store := repository.NewMemoryStore()
		deps.Users = store.Users()
		deps.Scans = store.Scans()
		deps.APIKeys = store.APIKeys()
		deps.Schedules = store.Schedules()
		deps.Audit = store.Audit()
	}

	if cfg.Redis.Enabled {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			// без кэша сервис работает, только медленнее
			log.Warnw("Redis unavailable, user cache disabled", "error", err)
		} else {
			closers = append(closers, cache.Close)
			deps.Users = repository.NewCachedUserRepository(deps.Users, cache, log)
			deps.Checks["redis"] = handlers.PingFunc(cache.Ping)
		}
	}

	if cfg.Kafka.Enabled {
		topics := kafka.Topics{Account: cfg.Kafka.AccountTopic, Scan: cfg.Kafka.ScanTopic}
		brokers := cfg.KafkaBrokers()
		if err := kafka.EnsureTopics(ctx, brokers, topics, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics, relying on broker auto-create", "error", err)
		}
		pub, err := kafka.NewKafkaPublisher(brokers, topics, log)
		if err != nil {
			return fail(fmt.Errorf("kafka publisher: %w", err))
		}
		deps.Publisher = pub
	} else {
		deps.Publisher = kafka.NewNoopPublisher(log)
	}

	sc, err := scanner.NewChromeScanner(scanner.Config{
		ChromePath:    cfg.Scanner.ChromePath,
		AxeScriptPath: cfg.Scanner.AxeScriptPath,
		Timeout:       cfg.ScanTimeout(),
	}, log)
	if err != nil {
		return fail(err)
	}
	deps.Scanner = sc

	if cfg.Stripe.APIKey != "" {
		deps.Billing = stripe.NewClient(stripe.Config{APIKey: cfg.Stripe.APIKey}, log)
	} else {
		log.Warnw("Stripe API key is not configured, reconciliation disabled")
	}

	a := Build(cfg, deps, log)
	a.closers = append(a.closers, closers...)
	system.Track("ratelimit_tracked_clients", "Client IPs tracked by the rate limiter",
		func() float64 { return float64(a.RateLimiter.TrackedClients()) })
	return a, nil
}

// Close освобождает ресурсы в обратном порядке
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServeTimeout верхняя граница для HTTP запроса со сканом
func (a *App) ServeTimeout() time.Duration {
	return a.Config.ScanTimeout() + 15*time.Second
}
