package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/cryptotracker/tracker_service/internal/api/handlers"
	"github.com/cryptotracker/tracker_service/internal/api/middleware"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/di"
	"github.com/cryptotracker/tracker_service/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	checks := make(map[string]handlers.Pinger)
	for name, check := range container.ReadinessChecks() {
		checks[name] = handlers.PingFunc(check)
	}
	coreHandlers := handlers.NewCoreHandlers(checks, container.ZapLog)
	addressHandlers := handlers.NewAddressHandlers(
		container.AddressService,
		container.MonitoringService,
		container.TransactionRepo,
		container.ZapLog,
	)
	webhookHandlers := handlers.NewWebhookHandlers(container.Dispatcher, container.ZapLog)
	monitoringHandlers := handlers.NewMonitoringHandlers(container.MonitoringService, container.ZapLog)

	// Health checks (no auth required)
	router.GET("/health", coreHandlers.Health)
	router.GET("/ready", coreHandlers.Ready)
	router.GET("/metrics", handlers.Metrics())

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(container.Config.JWT.Secret, container.Config.JWT.Issuer, container.Logger))
	{
		addresses := v1.Group("/addresses")
		{
			addresses.GET("", addressHandlers.ListAddresses)
			addresses.POST("", addressHandlers.CreateAddress)
			addresses.GET("/:id", addressHandlers.GetAddress)
			addresses.PATCH("/:id", addressHandlers.UpdateAddress)
			addresses.DELETE("/:id", addressHandlers.DeleteAddress)
			addresses.POST("/:id/listening", addressHandlers.SetListening)
			addresses.GET("/:id/schedule", addressHandlers.GetSchedule)
			addresses.GET("/:id/transactions", addressHandlers.ListTransactions)
		}

		transactions := v1.Group("/transactions")
		{
			transactions.POST("/:id/webhook/resend", webhookHandlers.Resend)
			transactions.GET("/:id/webhook/logs", webhookHandlers.Logs)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth())
		{
			admin.POST("/monitoring/restart", monitoringHandlers.Restart)
			admin.POST("/monitoring/cleanup", monitoringHandlers.Cleanup)
		}
	}

	return router
}
