package transfer_poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/services/gateway"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/logger"
	"github.com/cryptotracker/tracker_service/pkg/metrics"
)

// fetchErrorPrefix is recorded as lastError when the chain API call fails
const fetchErrorPrefix = "Failed to fetch transactions"

// AddressRepository loads monitored addresses
type AddressRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error)
}

// TransactionRepository stores ingested transfers
type TransactionRepository interface {
	LatestTimestamp(ctx context.Context, addressID uuid.UUID) (*int64, error)
	InsertIfAbsent(ctx context.Context, tx *entities.Transaction) (bool, error)
}

// RunRepository reads and patches the schedule row of the lineage
type RunRepository interface {
	GetCurrent(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error)
	MarkStopped(ctx context.Context, id uuid.UUID, at time.Time) error
	StopSuperseded(ctx context.Context, addressID uuid.UUID, functionName string, keepID uuid.UUID, at time.Time) (int64, error)
	CompleteRun(ctx context.Context, id uuid.UUID, completion entities.RunCompletion) (bool, error)
}

// AdapterResolver picks the chain adapter of an address
type AdapterResolver interface {
	Resolve(token entities.Token, network entities.Network) (gateway.Adapter, error)
}

// JobScheduler enqueues delayed jobs
type JobScheduler interface {
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error
}

// Config holds the reschedule delays
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// DefaultConfig returns the standard 5s / 30s cadence
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		ErrorBackoff: 30 * time.Second,
	}
}

// fetchResult is what the fetch phase hands to the store phase
type fetchResult struct {
	shouldContinue bool
	transfers      []entities.Transfer
	err            error
}

// Poller runs one fetch-store cycle per poll job and reschedules the lineage
type Poller struct {
	config       Config
	addresses    AddressRepository
	transactions TransactionRepository
	runs         RunRepository
	adapters     AdapterResolver
	jobs         JobScheduler
	logger       *logger.Logger
	now          func() time.Time
}

// NewPoller creates a poller
func NewPoller(
	config Config,
	addresses AddressRepository,
	transactions TransactionRepository,
	runs RunRepository,
	adapters AdapterResolver,
	jobs JobScheduler,
	log *logger.Logger,
) *Poller {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}
	return &Poller{
		config:       config,
		addresses:    addresses,
		transactions: transactions,
		runs:         runs,
		adapters:     adapters,
		jobs:         jobs,
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Poll runs one cycle for addressID. Fetch failures never escape; the
// returned error reports storage failures only.
func (p *Poller) Poll(ctx context.Context, addressID uuid.UUID) error {
	start := time.Now()
	result, address := p.fetch(ctx, addressID)

	token, network := "unknown", "unknown"
	if address != nil {
		token, network = string(address.Token), string(address.Network)
	}
	defer func() {
		metrics.PollCycleDuration.WithLabelValues(token, network).Observe(time.Since(start).Seconds())
	}()

	outcome, err := p.store(ctx, addressID, result)
	metrics.PollCyclesTotal.WithLabelValues(token, network, outcome).Inc()
	return err
}

// fetch loads the address, resolves its adapter and lists transfers newer
// than the checkpoint
func (p *Poller) fetch(ctx context.Context, addressID uuid.UUID) (fetchResult, *entities.Address) {
	address, err := p.addresses.GetByID(ctx, addressID)
	if err != nil {
		p.logger.Error("Failed to load address", "address_id", addressID, "error", err)
		return fetchResult{shouldContinue: true, err: err}, nil
	}
	if address == nil || !address.IsListening {
		return fetchResult{shouldContinue: false}, address
	}

	adapter, err := p.adapters.Resolve(address.Token, address.Network)
	if err != nil {
		p.logger.Error("No chain adapter for address",
			"address_id", addressID,
			"token", address.Token,
			"network", address.Network,
			"error", err)
		return fetchResult{shouldContinue: false}, address
	}

	minTimestamp, err := p.checkpoint(ctx, address)
	if err != nil {
		p.logger.Error("Failed to read checkpoint", "address_id", addressID, "error", err)
		return fetchResult{shouldContinue: true, err: err}, address
	}

	transfers, err := adapter.FetchTransfers(ctx, address.Address, minTimestamp)
	if err != nil {
		p.logger.Warn("Failed to fetch transfers",
			"address_id", addressID,
			"provider", adapter.Name(),
			"min_timestamp", minTimestamp,
			"error", err)
		return fetchResult{shouldContinue: true, err: err}, address
	}

	metrics.TransfersFetchedTotal.WithLabelValues(string(address.Token), string(address.Network)).Add(float64(len(transfers)))
	return fetchResult{shouldContinue: true, transfers: transfers}, address
}

// checkpoint is one past the newest stored timestamp, or the address creation time
func (p *Poller) checkpoint(ctx context.Context, address *entities.Address) (int64, error) {
	latest, err := p.transactions.LatestTimestamp(ctx, address.ID)
	if err != nil {
		return 0, err
	}
	if latest != nil {
		return *latest + 1, nil
	}
	return address.CreatedAtMillis(), nil
}

// store persists new transactions, queues their webhooks and reschedules or
// finalizes the lineage. It returns the cycle outcome label.
func (p *Poller) store(ctx context.Context, addressID uuid.UUID, result fetchResult) (string, error) {
	run, err := p.runs.GetCurrent(ctx, addressID, entities.FunctionProcessTransactionFetch)
	if err != nil {
		return p.storeFailed(ctx, addressID, true, fmt.Errorf("failed to load scheduled run: %w", err))
	}

	// older rows stopped while a newer run started never see a cycle of their own
	if run != nil {
		stopped, err := p.runs.StopSuperseded(ctx, addressID, entities.FunctionProcessTransactionFetch, run.ID, p.now())
		if err != nil {
			return p.storeFailed(ctx, addressID, run.Status == entities.RunStatusActive, fmt.Errorf("failed to stop superseded runs: %w", err))
		}
		if stopped > 0 {
			p.logger.Info("Stopped superseded scheduled runs", "address_id", addressID, "count", stopped)
		}
	}

	if !result.shouldContinue || (run != nil && run.Status == entities.RunStatusStopping) {
		return "finalized", p.finalize(ctx, addressID, run)
	}

	active := run != nil && run.Status == entities.RunStatusActive

	address, err := p.addresses.GetByID(ctx, addressID)
	if err != nil {
		return p.storeFailed(ctx, addressID, active, fmt.Errorf("failed to reload address: %w", err))
	}
	if address == nil {
		p.logger.Info("Address not found, stopping", "address_id", addressID)
		return "finalized", p.finalize(ctx, addressID, run)
	}

	now := p.now()
	if err := p.ingest(ctx, address, result.transfers, now); err != nil {
		return p.storeFailed(ctx, addressID, active, err)
	}

	if !active {
		p.logger.Warn("No active scheduled run found, not rescheduling", "address_id", addressID)
		return "orphaned", nil
	}

	delay := p.config.PollInterval
	completion := entities.RunCompletion{
		LastRunAt:  now,
		RunCount:   run.RunCount + 1,
		ErrorCount: run.ErrorCount,
	}
	outcome := "ok"
	if result.err != nil {
		delay = p.config.ErrorBackoff
		errorCount := 1
		if run.ErrorCount != nil {
			errorCount = *run.ErrorCount + 1
		}
		lastError := fmt.Sprintf("%s: %v", fetchErrorPrefix, result.err)
		completion.ErrorCount = &errorCount
		completion.LastError = &lastError
		outcome = "fetch_error"
	}
	completion.NextRunAt = now.Add(delay)

	updated, err := p.runs.CompleteRun(ctx, run.ID, completion)
	if err != nil {
		return p.storeFailed(ctx, addressID, true, fmt.Errorf("failed to update scheduled run: %w", err))
	}
	if !updated {
		// stopped while this cycle ran
		current, err := p.runs.GetCurrent(ctx, addressID, entities.FunctionProcessTransactionFetch)
		if err != nil {
			return p.storeFailed(ctx, addressID, true, fmt.Errorf("failed to reload scheduled run: %w", err))
		}
		if current != nil && current.ID == run.ID {
			return "finalized", p.finalize(ctx, addressID, current)
		}
		return "finalized", nil
	}

	if err := p.jobs.Enqueue(ctx, queue.NewPollJob(addressID), delay); err != nil {
		return "store_error", fmt.Errorf("failed to reschedule poll: %w", err)
	}
	return outcome, nil
}

// ingest inserts every unseen transfer and queues a webhook for each new
// transaction when the address has one configured
func (p *Poller) ingest(ctx context.Context, address *entities.Address, transfers []entities.Transfer, now time.Time) error {
	hasWebhook := address.Webhook() != nil

	for _, transfer := range transfers {
		tx := entities.NewTransactionFromTransfer(address, transfer, now)
		inserted, err := p.transactions.InsertIfAbsent(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to store transaction %s: %w", transfer.ID, err)
		}
		if !inserted {
			continue
		}

		metrics.TransactionsStoredTotal.WithLabelValues(string(address.Token), string(address.Network), string(tx.Type)).Inc()
		p.logger.Info("Stored new transaction",
			"address_id", address.ID,
			"transaction_id", transfer.ID,
			"type", tx.Type)

		if !hasWebhook {
			continue
		}
		if err := p.jobs.Enqueue(ctx, queue.NewWebhookJob(tx.ID), 0); err != nil {
			p.logger.Error("Failed to enqueue webhook",
				"transaction_id", tx.ID,
				"error", err)
		}
	}
	return nil
}

func (p *Poller) finalize(ctx context.Context, addressID uuid.UUID, run *entities.ScheduledRun) error {
	if run == nil {
		p.logger.Warn("No scheduled run to finalize", "address_id", addressID)
		return nil
	}
	if err := p.runs.MarkStopped(ctx, run.ID, p.now()); err != nil {
		return fmt.Errorf("failed to finalize scheduled run: %w", err)
	}
	p.logger.Info("Stopped scheduled run", "address_id", addressID, "run_id", run.ID)
	return nil
}

// storeFailed keeps an active lineage alive across storage outages by retrying
// after the error backoff. The queue merges this job with any pending one.
func (p *Poller) storeFailed(ctx context.Context, addressID uuid.UUID, rearm bool, err error) (string, error) {
	p.logger.Error("Poll cycle store phase failed", "address_id", addressID, "error", err)
	if !rearm {
		return "store_error", err
	}
	if enqueueErr := p.jobs.Enqueue(ctx, queue.NewPollJob(addressID), p.config.ErrorBackoff); enqueueErr != nil {
		p.logger.Error("Failed to reschedule after store error", "address_id", addressID, "error", enqueueErr)
	}
	return "store_error", err
}
