package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/Dhoini/a11y-scan-service/internal/config"
	"github.com/Dhoini/a11y-scan-service/internal/domain"
	"github.com/Dhoini/a11y-scan-service/internal/integration/stripe"
	"github.com/Dhoini/a11y-scan-service/internal/metrics"
	"github.com/Dhoini/a11y-scan-service/internal/repository/postgres"
	"github.com/Dhoini/a11y-scan-service/internal/service"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
)

// Сверка локальных тарифов с подписками Stripe.
// По умолчанию только отчет, запись включается флагом -apply.
func main() {
	var (
		envPath = flag.String("env", ".env", "path to .env file")
		apply   = flag.Bool("apply", false, "write drifted plans back to the database")
		userID  = flag.String("user", "", "reconcile a single user instead of everyone with a billing customer")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*envPath)
	if err != nil {
		logger.New(logger.ERROR).Fatalw("Failed to load configuration", "error", err)
	}
	log := logger.New(logger.ParseLevel(cfg.App.LogLevel))
	defer log.Sync()

	if cfg.Database.DSN == "" {
		log.Fatalw("DATABASE_DSN is required for reconciliation")
	}
	if cfg.Stripe.APIKey == "" {
		log.Fatalw("STRIPE_API_KEY is required for reconciliation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewConnection(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	db := postgres.NewSQLX(pool)
	reconciler := service.NewBillingReconciler(
		postgres.NewUserRepository(db, log),
		postgres.NewAuditRepository(db, log),
		stripe.NewClient(stripe.Config{APIKey: cfg.Stripe.APIKey}, log),
		domain.NewPriceTable(cfg.Stripe.Prices.Pro, cfg.Stripe.Prices.Business, cfg.Stripe.Prices.Enterprise),
		metrics.NewNopEntitlementMetrics(),
		service.SystemClock(),
		log,
	)

	log.Infow("Reconciliation started", "apply", *apply, "user", *userID)

	var out any
	if *userID != "" {
		res, err := reconciler.Reconcile(ctx, *userID, *apply)
		if err != nil {
			log.Fatalw("Reconciliation failed", "userID", *userID, "error", err)
		}
		out = res
	} else {
		summary, err := reconciler.ReconcileAll(ctx, *apply)
		if err != nil {
			log.Fatalw("Reconciliation failed", "error", err)
		}
		log.Infow("Reconciliation finished", "checked", summary.Checked, "drifted", summary.Drifted, "applied", summary.Applied, "failed", summary.Failed)
		out = summary
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Errorw("Failed to write report", "error", err)
	}
}
