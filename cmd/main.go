package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cryptotracker/tracker_service/internal/api/routes"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/config"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/database"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/di"
	"github.com/cryptotracker/tracker_service/pkg/graceful"
	"github.com/cryptotracker/tracker_service/pkg/logger"
	"github.com/cryptotracker/tracker_service/pkg/metrics"
	"github.com/cryptotracker/tracker_service/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Environment == "development",
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Queue.Start(ctx); err != nil {
		log.Fatal("Failed to start job queue", "error", err)
	}
	if err := container.JobRunner.Start(ctx); err != nil {
		log.Fatal("Failed to start job runner", "error", err)
	}
	log.Info("Job runner started", "workers", cfg.Workers.Count, "queue", cfg.Queue.Driver)

	// Re-arm schedules that were active before the process went down
	if cfg.Monitoring.RestartOnBoot {
		result, err := container.MonitoringService.Restart(ctx)
		if err != nil {
			log.Error("Boot restart failed", "error", err)
		} else {
			log.Info("Boot restart completed", "restarted", result.RestartedCount)
		}
		if resumed, err := container.MonitoringService.Resume(ctx, 0); err != nil {
			log.Error("Boot resume failed", "error", err)
		} else {
			log.Info("Boot resume completed", "resumed", resumed)
		}
	}

	// Webhook jobs lost with the previous process have no other way back
	if recovered, err := container.Dispatcher.RecoverUndelivered(ctx); err != nil {
		log.Error("Webhook recovery failed", "error", err)
	} else {
		log.Info("Webhook recovery completed", "queued", recovered)
	}

	if err := container.Sweeper.Start(); err != nil {
		log.Fatal("Failed to start monitor sweeper", "error", err)
	}

	router := routes.SetupRoutes(container)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Database connection metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
				metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
				metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
			}
		}
	}()

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	shutdown.Register("monitor sweeper", graceful.ShutdownFunc(func(time.Duration) error {
		container.Sweeper.Stop()
		return nil
	}))
	shutdown.Register("job runner", container.JobRunner)
	// in-flight cycles enqueue their follow-ups before the claim loop stops
	shutdown.Register("job queue", graceful.ShutdownFunc(func(time.Duration) error {
		return container.Queue.Close()
	}))
	shutdown.Register("container", graceful.ShutdownFunc(func(time.Duration) error {
		cancel()
		return container.Close()
	}))
	shutdown.Register("tracer", graceful.ShutdownFunc(func(timeout time.Duration) error {
		tctx, tcancel := context.WithTimeout(context.Background(), timeout)
		defer tcancel()
		return tracingShutdown(tctx)
	}))
	shutdown.Register("database", graceful.ShutdownFunc(func(time.Duration) error {
		return db.Close()
	}))

	shutdown.WaitForShutdown()
	log.Info("Server exited gracefully")
}
