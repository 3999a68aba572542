package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/services/address"
	"github.com/cryptotracker/tracker_service/internal/domain/services/gateway"
	"github.com/cryptotracker/tracker_service/internal/domain/services/monitoring"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/adapters/etherscan"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/adapters/trongrid"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/cache"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/config"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/database"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/repositories"
	"github.com/cryptotracker/tracker_service/internal/workers/job_runner"
	"github.com/cryptotracker/tracker_service/internal/workers/monitor_sweeper"
	"github.com/cryptotracker/tracker_service/internal/workers/transfer_poller"
	"github.com/cryptotracker/tracker_service/internal/workers/webhook_dispatcher"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	AddressRepo     *repositories.AddressRepository
	TransactionRepo *repositories.TransactionRepository
	RunRepo         *repositories.ScheduledRunRepository
	WebhookLogRepo  *repositories.WebhookLogRepository

	// Infrastructure
	RedisClient cache.RedisClient
	Queue       queue.Queue
	Gateway     *gateway.Registry

	// Domain Services
	AddressService    *address.Service
	MonitoringService *monitoring.Service

	// Workers
	Poller     *transfer_poller.Poller
	Dispatcher *webhook_dispatcher.Dispatcher
	JobRunner  *job_runner.Runner
	Sweeper    *monitor_sweeper.Worker
}

// NewContainer wires repositories, chain adapters, the job queue, services and workers
func NewContainer(cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	c := &Container{
		Config:          cfg,
		DB:              db,
		Logger:          log,
		ZapLog:          zapLog,
		AddressRepo:     repositories.NewAddressRepository(db),
		TransactionRepo: repositories.NewTransactionRepository(db),
		RunRepo:         repositories.NewScheduledRunRepository(db),
		WebhookLogRepo:  repositories.NewWebhookLogRepository(db),
		Gateway:         newGateway(cfg.Chains, zapLog),
	}

	if err := c.initializeQueue(); err != nil {
		return nil, err
	}

	c.MonitoringService = monitoring.NewService(
		c.AddressRepo,
		c.RunRepo,
		c.Queue,
		monitoring.Config{
			StaleThreshold: cfg.Monitoring.StaleThreshold(),
			Concurrency:    cfg.Monitoring.ReconcileWorkers,
		},
		log,
	)
	c.AddressService = address.NewService(c.AddressRepo, c.MonitoringService, log)

	c.Poller = transfer_poller.NewPoller(
		transfer_poller.Config{
			PollInterval: cfg.Monitoring.PollInterval(),
			ErrorBackoff: cfg.Monitoring.ErrorBackoff(),
		},
		c.AddressRepo,
		c.TransactionRepo,
		c.RunRepo,
		c.Gateway,
		c.Queue,
		log,
	)

	c.Dispatcher = webhook_dispatcher.NewDispatcher(
		webhook_dispatcher.Config{
			Timeout:         time.Duration(cfg.Webhook.Timeout) * time.Second,
			DefaultHeader:   cfg.Webhook.DefaultHeader,
			UserAgent:       cfg.Webhook.UserAgent,
			MaxResponseBody: cfg.Webhook.MaxResponseBody,
			RecoveryGrace:   time.Duration(cfg.Webhook.RecoveryGrace) * time.Second,
			RecoveryBatch:   cfg.Webhook.RecoveryBatch,
		},
		c.TransactionRepo,
		c.AddressRepo,
		c.WebhookLogRepo,
		c.Queue,
		zapLog,
	)

	runner, err := job_runner.NewRunner(
		job_runner.Config{
			WorkerCount: cfg.Workers.Count,
			JobTimeout:  time.Duration(cfg.Workers.JobTimeout) * time.Second,
		},
		c.Queue,
		c.Poller,
		c.Dispatcher,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runner: %w", err)
	}
	c.JobRunner = runner

	c.Sweeper = monitor_sweeper.NewWorker(
		c.MonitoringService,
		c.Dispatcher,
		monitor_sweeper.Config{
			Schedule:       cfg.Monitoring.SweepSchedule,
			StaleThreshold: cfg.Monitoring.StaleThreshold(),
		},
		zapLog,
	)

	return c, nil
}

func newGateway(cfg config.ChainsConfig, zapLog *zap.Logger) *gateway.Registry {
	registry := gateway.NewRegistry()

	registry.Register(entities.TokenUSDT, entities.NetworkTron, trongrid.NewClient(trongrid.Config{
		BaseURL:           cfg.TronGrid.BaseURL,
		APIKey:            cfg.TronGrid.APIKey,
		ContractAddress:   cfg.TronGrid.ContractAddress,
		PageSize:          cfg.TronGrid.PageSize,
		Timeout:           time.Duration(cfg.TronGrid.Timeout) * time.Second,
		RequestsPerSecond: cfg.TronGrid.RequestsPerSecond,
	}, zapLog))

	registry.Register(entities.TokenETH, entities.NetworkEthereum, etherscan.NewClient(etherscan.Config{
		BaseURL:           cfg.Etherscan.BaseURL,
		APIKey:            cfg.Etherscan.APIKey,
		PageSize:          cfg.Etherscan.PageSize,
		Timeout:           time.Duration(cfg.Etherscan.Timeout) * time.Second,
		RequestsPerSecond: cfg.Etherscan.RequestsPerSecond,
	}, zapLog))

	return registry
}

func (c *Container) initializeQueue() error {
	switch c.Config.Queue.Driver {
	case "redis":
		client, err := cache.NewRedisClient(&c.Config.Redis, c.ZapLog)
		if err != nil {
			return fmt.Errorf("failed to initialize redis queue: %w", err)
		}
		c.RedisClient = client
		c.Queue = queue.NewRedisQueue(client.Client(), queue.RedisConfig{
			KeyPrefix:    c.Config.Queue.KeyPrefix,
			PollInterval: time.Duration(c.Config.Queue.PollInterval) * time.Millisecond,
			BatchSize:    int64(c.Config.Queue.BatchSize),
		}, c.ZapLog)
	default:
		c.Queue = queue.NewMemoryQueue(0, c.ZapLog)
	}

	c.Logger.Info("Job queue initialized", "driver", c.Config.Queue.Driver)
	return nil
}

// ReadinessChecks returns the dependencies probed by /ready
func (c *Container) ReadinessChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, c.DB) },
	}
	if c.RedisClient != nil {
		checks["redis"] = c.RedisClient.Ping
	}
	return checks
}

// Close releases the queue and redis connection
func (c *Container) Close() error {
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			c.Logger.Warn("Queue close error", "error", err)
		}
	}
	if c.RedisClient != nil {
		return c.RedisClient.Close()
	}
	return nil
}
