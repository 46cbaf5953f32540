package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Dhoini/a11y-scan-service/internal/app"
	"github.com/Dhoini/a11y-scan-service/internal/config"
	scangrpc "github.com/Dhoini/a11y-scan-service/internal/grpc"
	"github.com/Dhoini/a11y-scan-service/internal/http/routes"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		logger.New(logger.ERROR).Fatalw("Failed to load configuration", "error", err)
	}

	log := logger.New(logger.ParseLevel(cfg.App.LogLevel))
	defer log.Sync()

	log.Infow("Accessibility scan service starting up...", "env", cfg.App.Env)
	if !cfg.TrialDurationExplicit {
		log.Warnw("Trial duration is not configured explicitly, using default", "days", cfg.Trial.DurationDays)
	}

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Errorw("Error releasing resources", "error", err)
		}
	}()

	router := gin.New()
	routes.SetupRoutes(router, application, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: application.ServeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// gRPC отдает только health для проб оркестратора
	grpcServer := scangrpc.NewServer(":"+cfg.App.GRPCPort, log)
	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Fatalw("Failed to start gRPC server", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")
	grpcServer.SetServing(false)

	// скан может идти до таймаута сканера, даем ему закончиться
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), application.ServeTimeout())
	defer shutdownCancel()

	log.Infow("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Shutting down gRPC server")
	grpcServer.Stop()
	log.Infow("gRPC server gracefully stopped")

	log.Infow("Cleanup finished. Goodbye!")
}
