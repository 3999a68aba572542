package job_runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/logger"
	"github.com/cryptotracker/tracker_service/pkg/metrics"
	"github.com/cryptotracker/tracker_service/pkg/tracing"
)

// Source hands out due jobs and accepts deferred ones
type Source interface {
	Jobs() <-chan queue.Job
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error
	Pending(ctx context.Context) (int, error)
}

// PollHandler runs one poll cycle for an address
type PollHandler interface {
	Poll(ctx context.Context, addressID uuid.UUID) error
}

// WebhookHandler delivers the webhook of a stored transaction
type WebhookHandler interface {
	Send(ctx context.Context, transactionID uuid.UUID) error
}

// Config holds configuration for the job runner
type Config struct {
	WorkerCount     int
	JobTimeout      time.Duration
	BusyRetryDelay  time.Duration
	MetricsInterval time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:     10,
		JobTimeout:      60 * time.Second,
		BusyRetryDelay:  time.Second,
		MetricsInterval: 15 * time.Second,
	}
}

// Runner executes queued jobs on a fixed pool of workers. A key is never
// run twice at once; a job arriving while its key is in flight is deferred.
type Runner struct {
	config   Config
	source   Source
	poller   PollHandler
	webhooks WebhookHandler
	logger   *logger.Logger

	processedCounter  metric.Int64Counter
	deferredCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram

	mu       sync.Mutex
	inFlight map[string]struct{}
	running  bool

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewRunner creates a new job runner
func NewRunner(
	config Config,
	source Source,
	poller PollHandler,
	webhooks WebhookHandler,
	log *logger.Logger,
) (*Runner, error) {
	defaults := DefaultConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.BusyRetryDelay <= 0 {
		config.BusyRetryDelay = defaults.BusyRetryDelay
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = defaults.MetricsInterval
	}

	meter := otel.Meter("tracker-job-runner")

	processedCounter, err := meter.Int64Counter(
		"jobs.processed.total",
		metric.WithDescription("Total number of jobs processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	deferredCounter, err := meter.Int64Counter(
		"jobs.deferred.total",
		metric.WithDescription("Jobs deferred because their key was in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"jobs.duration.seconds",
		metric.WithDescription("Job processing duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		config:            config,
		source:            source,
		poller:            poller,
		webhooks:          webhooks,
		logger:            log,
		processedCounter:  processedCounter,
		deferredCounter:   deferredCounter,
		durationHistogram: durationHistogram,
		inFlight:          make(map[string]struct{}),
		shutdownCtx:       ctx,
		shutdownCancel:    cancel,
	}, nil
}

// Start launches the workers
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("job runner already running")
	}
	r.running = true

	r.logger.Info("Starting job runner", "worker_count", r.config.WorkerCount)

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.wg.Add(1)
	go r.metricsReporter(ctx)

	return nil
}

// Shutdown stops taking new jobs and waits for in-flight ones
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.logger.Info("Shutting down job runner", "timeout", timeout)
	r.shutdownCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Job runner shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// IsRunning returns whether the runner has been started and not shut down
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) worker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	jobs := r.source.Jobs()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdownCtx.Done():
			return
		case job := <-jobs:
			r.handle(ctx, workerID, job)
		}
	}
}

// handle runs job unless its key is already in flight, in which case the job
// goes back to the queue shortly
func (r *Runner) handle(ctx context.Context, workerID int, job queue.Job) {
	key := job.Key()
	if !r.claim(key) {
		r.deferredCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(job.Kind))))
		if err := r.source.Enqueue(ctx, job, r.config.BusyRetryDelay); err != nil {
			r.logger.Error("Failed to defer busy job", "key", key, "error", err)
		}
		return
	}
	defer r.release(key)

	// in-flight work finishes on shutdown, bounded by the job timeout
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.JobTimeout)
	defer cancel()
	jobCtx, span := tracing.StartJobSpan(jobCtx, string(job.Kind), job.ID)
	defer span.End()

	start := time.Now()
	status := "completed"
	if err := r.execute(jobCtx, job); err != nil {
		status = "failed"
		span.RecordError(err)
		r.logger.Warn("Job failed", "worker_id", workerID, "key", key, "error", err)
	}
	duration := time.Since(start)

	attrs := metric.WithAttributes(
		attribute.String("kind", string(job.Kind)),
		attribute.String("status", status),
	)
	r.processedCounter.Add(ctx, 1, attrs)
	r.durationHistogram.Record(ctx, duration.Seconds(), attrs)
}

func (r *Runner) execute(ctx context.Context, job queue.Job) error {
	id, err := uuid.Parse(job.ID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", job.ID, err)
	}

	switch job.Kind {
	case queue.KindPoll:
		return r.poller.Poll(ctx, id)
	case queue.KindWebhook:
		return r.webhooks.Send(ctx, id)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (r *Runner) claim(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Runner) release(key string) {
	r.mu.Lock()
	delete(r.inFlight, key)
	r.mu.Unlock()
}

func (r *Runner) metricsReporter(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdownCtx.Done():
			return
		case <-ticker.C:
			pending, err := r.source.Pending(ctx)
			if err != nil {
				r.logger.Error("Failed to count pending jobs", "error", err)
				continue
			}
			metrics.QueuePendingJobs.Set(float64(pending))
		}
	}
}
