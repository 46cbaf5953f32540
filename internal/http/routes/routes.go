package routes

import (
	"github.com/Dhoini/a11y-scan-service/internal/app"
	"github.com/Dhoini/a11y-scan-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	// Служебные маршруты
	router.GET("/health", app.HealthHandler.Live)
	router.GET("/ready", app.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		// Скан с сайта: аноним или пользователь
		api.POST("/scan", app.RateLimiter.Handler(), app.AuthMiddleware.OptionalAuth(), app.ScanHandler.Scan)

		// Скан по API ключу
		api.POST("/v1/scan", app.RateLimiter.Handler(), app.ScanHandler.APIScan)

		if app.WebhookHandler != nil {
			api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)
		}

		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())

		auth.GET("/scans", app.ScanHandler.List)
		auth.GET("/scans/:id", app.ScanHandler.Get)

		user := auth.Group("/user")
		{
			user.GET("/api-key", app.APIKeyHandler.List)
			user.POST("/api-key", app.APIKeyHandler.Create)
			user.DELETE("/api-key", app.APIKeyHandler.Revoke)

			user.POST("/trial", app.UserHandler.StartTrial)
			user.GET("/plan", app.UserHandler.Plan)
		}

		schedules := auth.Group("/scheduled-scans")
		{
			schedules.GET("", app.ScheduleHandler.List)
			schedules.POST("", app.ScheduleHandler.Create)
			schedules.PATCH("/:id", app.ScheduleHandler.Update)
			schedules.DELETE("/:id", app.ScheduleHandler.Delete)
		}

		// Вызовы планировщика, защищены общим секретом
		cron := api.Group("/cron")
		cron.Use(app.CronAuth)
		{
			cron.POST("/end-trials", app.CronHandler.EndTrials)
			cron.POST("/end-paid-periods", app.CronHandler.EndPaidPeriods)
			cron.GET("/trial-reminders", app.CronHandler.TrialReminders)
			cron.POST("/scheduled-scans", app.CronHandler.ScheduledScans)
		}
	}

	log.Infow("API routes successfully configured")
}
