package monitor_sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/pkg/metrics"
)

const defaultSchedule = "@every 1m"

// Reconciler is the schedule maintenance surface of the monitoring service
type Reconciler interface {
	CleanupStale(ctx context.Context, threshold time.Duration) (*entities.CleanupResult, error)
	Restart(ctx context.Context) (*entities.RestartResult, error)
	Resume(ctx context.Context, olderThan time.Duration) (int, error)
}

// WebhookRecoverer queues deliveries whose job never ran
type WebhookRecoverer interface {
	RecoverUndelivered(ctx context.Context) (int, error)
}

// Config holds the sweep settings
type Config struct {
	Schedule       string
	StaleThreshold time.Duration
	Timeout        time.Duration
}

// Worker periodically reconciles scheduled runs with listening addresses
type Worker struct {
	reconciler Reconciler
	webhooks   WebhookRecoverer
	config     Config
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewWorker creates a sweeper; the schedule defaults to every minute
func NewWorker(reconciler Reconciler, webhooks WebhookRecoverer, config Config, logger *zap.Logger) *Worker {
	if config.Schedule == "" {
		config.Schedule = defaultSchedule
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &Worker{
		reconciler: reconciler,
		webhooks:   webhooks,
		config:     config,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start registers the sweep on the cron schedule and starts it
func (w *Worker) Start() error {
	_, err := w.cron.AddFunc(w.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.Timeout)
		defer cancel()
		w.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Monitor sweeper started", zap.String("schedule", w.config.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Monitor sweeper stopped")
}

// Sweep stops stale runs of dead addresses, starts runs for listening
// addresses that have none, re-arms stale runs whose job was lost and queues
// webhooks that were never attempted. Each step runs even if an earlier one failed.
func (w *Worker) Sweep(ctx context.Context) {
	cleanup, err := w.reconciler.CleanupStale(ctx, w.config.StaleThreshold)
	if err != nil {
		w.logger.Error("Failed to cleanup stale runs", zap.Error(err))
	} else if cleanup.CleanedCount > 0 {
		metrics.ScheduleReconciledTotal.WithLabelValues("cleaned").Add(float64(cleanup.CleanedCount))
	}

	restart, err := w.reconciler.Restart(ctx)
	if err != nil {
		w.logger.Error("Failed to restart listening addresses", zap.Error(err))
	} else if restart.RestartedCount > 0 {
		metrics.ScheduleReconciledTotal.WithLabelValues("restarted").Add(float64(restart.RestartedCount))
	}

	resumed, err := w.reconciler.Resume(ctx, w.config.StaleThreshold)
	if err != nil {
		w.logger.Error("Failed to resume stale runs", zap.Error(err))
	} else if resumed > 0 {
		metrics.ScheduleReconciledTotal.WithLabelValues("resumed").Add(float64(resumed))
	}

	recovered, err := w.webhooks.RecoverUndelivered(ctx)
	if err != nil {
		w.logger.Error("Failed to recover undelivered webhooks", zap.Error(err))
	} else if recovered > 0 {
		metrics.ScheduleReconciledTotal.WithLabelValues("webhooks_requeued").Add(float64(recovered))
	}
}
