// Package monitoring controls the per-address polling schedule: starting and
// stopping lineages and reconciling schedule rows with listening addresses.
package monitoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

const defaultStaleThreshold = 60 * time.Second

// AddressRepository is the address access the controller needs
type AddressRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error)
	ListListening(ctx context.Context) ([]*entities.Address, error)
	SetListening(ctx context.Context, id uuid.UUID, listening bool) error
}

// RunRepository persists schedule rows
type RunRepository interface {
	GetActive(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error)
	GetLatest(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error)
	CreateActive(ctx context.Context, run *entities.ScheduledRun) (bool, error)
	MarkStopping(ctx context.Context, addressID uuid.UUID, functionName string) (int64, error)
	MarkStopped(ctx context.Context, id uuid.UUID, at time.Time) error
	ListStaleActive(ctx context.Context, functionName string, before time.Time) ([]*entities.ScheduledRun, error)
	ListActive(ctx context.Context, functionName string) ([]*entities.ScheduledRun, error)
}

// JobScheduler enqueues delayed jobs
type JobScheduler interface {
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error
}

// Config tunes reconciliation
type Config struct {
	StaleThreshold time.Duration
	// Concurrency bounds the fan-out of Restart and Resume
	Concurrency int
}

// Service is the scheduling controller
type Service struct {
	addresses AddressRepository
	runs      RunRepository
	jobs      JobScheduler
	config    Config
	logger    *logger.Logger
	now       func() time.Time
}

// NewService creates a scheduling controller
func NewService(addresses AddressRepository, runs RunRepository, jobs JobScheduler, config Config, log *logger.Logger) *Service {
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaultStaleThreshold
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Service{
		addresses: addresses,
		runs:      runs,
		jobs:      jobs,
		config:    config,
		logger:    log,
		now:       time.Now,
	}
}

// Start begins polling an address. It is a no-op when an active run exists.
func (s *Service) Start(ctx context.Context, addressID uuid.UUID) error {
	_, err := s.start(ctx, addressID)
	return err
}

// start reports whether a new lineage was created
func (s *Service) start(ctx context.Context, addressID uuid.UUID) (bool, error) {
	existing, err := s.runs.GetActive(ctx, addressID, entities.FunctionProcessTransactionFetch)
	if err != nil {
		return false, err
	}
	if existing != nil {
		s.logger.Debug("Scheduled run already active",
			"address_id", addressID,
			"started_at", existing.StartedAt)
		return false, nil
	}

	now := s.now()
	run := &entities.ScheduledRun{
		ID:           uuid.New(),
		AddressID:    addressID,
		FunctionName: entities.FunctionProcessTransactionFetch,
		Status:       entities.RunStatusActive,
		StartedAt:    now,
		LastRunAt:    now,
		RunCount:     0,
	}
	created, err := s.runs.CreateActive(ctx, run)
	if err != nil {
		return false, err
	}
	if !created {
		// a concurrent start won the race
		return false, nil
	}

	if err := s.jobs.Enqueue(ctx, queue.NewPollJob(addressID), 0); err != nil {
		return true, fmt.Errorf("failed to enqueue first poll: %w", err)
	}

	s.logger.Info("Started scheduled run", "address_id", addressID, "run_id", run.ID)
	return true, nil
}

// Stop asks every active run of the address to finish after its current cycle
func (s *Service) Stop(ctx context.Context, addressID uuid.UUID) error {
	n, err := s.runs.MarkStopping(ctx, addressID, entities.FunctionProcessTransactionFetch)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("Stopping scheduled run", "address_id", addressID, "runs", n)
	}
	return nil
}

// CleanupStale stops active runs that have not reported within threshold and
// whose address is gone or no longer listening. threshold <= 0 uses the default.
func (s *Service) CleanupStale(ctx context.Context, threshold time.Duration) (*entities.CleanupResult, error) {
	if threshold <= 0 {
		threshold = s.config.StaleThreshold
	}
	now := s.now()

	stale, err := s.runs.ListStaleActive(ctx, entities.FunctionProcessTransactionFetch, now.Add(-threshold))
	if err != nil {
		return nil, err
	}

	result := &entities.CleanupResult{StaleFunctions: make([]entities.ScheduledRun, 0, len(stale))}
	for _, run := range stale {
		address, err := s.addresses.GetByID(ctx, run.AddressID)
		if err != nil {
			return nil, err
		}
		if address == nil || !address.IsListening {
			if err := s.runs.MarkStopped(ctx, run.ID, now); err != nil {
				return nil, err
			}
			run.Status = entities.RunStatusStopped
			run.LastRunAt = now
			result.CleanedCount++
		}
		result.StaleFunctions = append(result.StaleFunctions, *run)
	}

	if len(stale) > 0 {
		s.logger.Info("Cleaned up stale scheduled runs",
			"stale", len(stale),
			"cleaned", result.CleanedCount)
	}
	return result, nil
}

// Restart starts a lineage for every listening address without an active run
func (s *Service) Restart(ctx context.Context) (*entities.RestartResult, error) {
	listening, err := s.addresses.ListListening(ctx)
	if err != nil {
		return nil, err
	}

	var restarted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, address := range listening {
		addressID := address.ID
		g.Go(func() error {
			created, err := s.start(gctx, addressID)
			if err != nil {
				return fmt.Errorf("restart %s: %w", addressID, err)
			}
			if created {
				atomic.AddInt64(&restarted, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &entities.RestartResult{
		RestartedCount: int(restarted),
		TotalListening: len(listening),
	}
	if result.RestartedCount > 0 {
		s.logger.Info("Restarted scheduled runs",
			"restarted", result.RestartedCount,
			"listening", result.TotalListening)
	}
	return result, nil
}

// Resume re-enqueues a poll job for active runs of listening addresses whose
// job may have been lost. olderThan <= 0 resumes every active run. The queue
// deduplicates keys, so resuming a run with a pending job does not fork it.
func (s *Service) Resume(ctx context.Context, olderThan time.Duration) (int, error) {
	var (
		runs []*entities.ScheduledRun
		err  error
	)
	if olderThan > 0 {
		runs, err = s.runs.ListStaleActive(ctx, entities.FunctionProcessTransactionFetch, s.now().Add(-olderThan))
	} else {
		runs, err = s.runs.ListActive(ctx, entities.FunctionProcessTransactionFetch)
	}
	if err != nil {
		return 0, err
	}

	var resumed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, run := range runs {
		addressID := run.AddressID
		g.Go(func() error {
			address, err := s.addresses.GetByID(gctx, addressID)
			if err != nil {
				return err
			}
			if address == nil || !address.IsListening {
				return nil
			}
			if err := s.jobs.Enqueue(gctx, queue.NewPollJob(addressID), 0); err != nil {
				return fmt.Errorf("resume %s: %w", addressID, err)
			}
			atomic.AddInt64(&resumed, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if resumed > 0 {
		s.logger.Info("Resumed scheduled runs", "resumed", resumed)
	}
	return int(resumed), nil
}

// Status returns the newest schedule row of the address, or nil
func (s *Service) Status(ctx context.Context, addressID uuid.UUID) (*entities.ScheduledRun, error) {
	return s.runs.GetLatest(ctx, addressID, entities.FunctionProcessTransactionFetch)
}

// SetListening persists the listening flag of an owned address and starts or
// stops its lineage accordingly
func (s *Service) SetListening(ctx context.Context, ownerID, addressID uuid.UUID, listening bool) (*entities.Address, error) {
	address, err := s.addresses.GetByID(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if address == nil {
		return nil, errors.NotFoundError("ADDRESS")
	}
	if address.OwnerID != ownerID {
		return nil, errors.ForbiddenError("address belongs to another user")
	}

	if err := s.addresses.SetListening(ctx, addressID, listening); err != nil {
		return nil, err
	}
	address.IsListening = listening

	if listening {
		err = s.Start(ctx, addressID)
	} else {
		err = s.Stop(ctx, addressID)
	}
	if err != nil {
		return nil, err
	}
	return address, nil
}
