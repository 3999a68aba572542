package webhook_dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/metrics"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultUserAgent       = "CryptoTracker/1.0"
	defaultMaxResponseBody = 64 << 10
	defaultRecoveryGrace   = time.Minute
	defaultRecoveryBatch   = 100
)

// TransactionRepository reads transactions and flips their delivery flag
type TransactionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	SetWebhookSent(ctx context.Context, id uuid.UUID, sent bool) error
	ListUndelivered(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

// AddressRepository loads the webhook target of a transaction's address
type AddressRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error)
}

// LogRepository is the append-only delivery audit trail
type LogRepository interface {
	CountByTransaction(ctx context.Context, transactionID uuid.UUID) (int, error)
	Create(ctx context.Context, log *entities.WebhookLog) error
	Complete(ctx context.Context, id uuid.UUID, result entities.WebhookLogResult) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*entities.WebhookLog, error)
}

// JobScheduler enqueues delayed jobs
type JobScheduler interface {
	Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error
}

// Config holds delivery settings
type Config struct {
	Timeout         time.Duration
	DefaultHeader   string
	UserAgent       string
	MaxResponseBody int64
	// RecoveryGrace is how old a never attempted delivery must be before
	// RecoverUndelivered queues it again
	RecoveryGrace time.Duration
	RecoveryBatch int
}

// Dispatcher posts transaction notifications to user endpoints. Failed
// deliveries are logged and never retried automatically.
type Dispatcher struct {
	config       Config
	httpClient   *http.Client
	transactions TransactionRepository
	addresses    AddressRepository
	logs         LogRepository
	jobs         JobScheduler
	logger       *zap.Logger
	now          func() time.Time
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(
	config Config,
	transactions TransactionRepository,
	addresses AddressRepository,
	logs LogRepository,
	jobs JobScheduler,
	logger *zap.Logger,
) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.DefaultHeader == "" {
		config.DefaultHeader = entities.DefaultWebhookHeader
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.MaxResponseBody <= 0 {
		config.MaxResponseBody = defaultMaxResponseBody
	}
	if config.RecoveryGrace <= 0 {
		config.RecoveryGrace = defaultRecoveryGrace
	}
	if config.RecoveryBatch <= 0 {
		config.RecoveryBatch = defaultRecoveryBatch
	}
	return &Dispatcher{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		transactions: transactions,
		addresses:    addresses,
		logs:         logs,
		jobs:         jobs,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers the webhook of a transaction once. Missing transactions,
// already delivered ones and addresses without a webhook are skipped.
func (d *Dispatcher) Send(ctx context.Context, transactionID uuid.UUID) error {
	tx, err := d.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx == nil {
		d.logger.Info("Transaction not found, skipping webhook", zap.String("transaction_id", transactionID.String()))
		return nil
	}
	if tx.WebhookSent {
		d.logger.Debug("Webhook already sent", zap.String("transaction_id", transactionID.String()))
		return nil
	}

	address, err := d.addresses.GetByID(ctx, tx.AddressID)
	if err != nil {
		return err
	}
	var webhook *entities.WebhookConfig
	if address != nil {
		webhook = address.Webhook()
	}
	if webhook == nil {
		d.logger.Info("No webhook configured for address", zap.String("address_id", tx.AddressID.String()))
		return nil
	}

	previous, err := d.logs.CountByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	payload, err := entities.NewWebhookPayload(tx).Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	entry := &entities.WebhookLog{
		ID:             uuid.New(),
		TransactionID:  tx.ID,
		AddressID:      tx.AddressID,
		OwnerID:        tx.OwnerID,
		WebhookURL:     webhook.URL,
		Status:         entities.WebhookLogStatusPending,
		RequestPayload: string(payload),
		AttemptNumber:  previous + 1,
		SentAt:         d.now(),
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		return err
	}

	headerName := webhook.HeaderName
	if strings.TrimSpace(headerName) == "" {
		headerName = d.config.DefaultHeader
	}

	start := time.Now()
	result, deliveryErr := d.post(ctx, webhook.URL, headerName, webhook.VerificationCode, payload)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(result.Status)).Inc()

	if result.Status == entities.WebhookLogStatusSuccess {
		if err := d.transactions.SetWebhookSent(ctx, tx.ID, true); err != nil {
			return err
		}
	}
	if err := d.logs.Complete(ctx, entry.ID, result); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("transaction_id", tx.TransactionID),
		zap.String("url", webhook.URL),
		zap.Int("attempt", entry.AttemptNumber),
		zap.Duration("latency", time.Since(start)),
	}
	if deliveryErr != nil {
		d.logger.Warn("Webhook delivery failed", append(fields, zap.Error(deliveryErr))...)
		return deliveryErr
	}
	d.logger.Info("Webhook sent successfully", fields...)
	return nil
}

// post issues the request and translates the response into a log result
func (d *Dispatcher) post(ctx context.Context, url, headerName, verificationCode string, payload []byte) (entities.WebhookLogResult, error) {
	failed := func(message string, statusCode *int, body *string, cause error) (entities.WebhookLogResult, error) {
		code := 0
		if statusCode != nil {
			code = *statusCode
		}
		return entities.WebhookLogResult{
			Status:       entities.WebhookLogStatusFailed,
			StatusCode:   statusCode,
			ErrorMessage: &message,
			ResponseBody: body,
		}, errors.WebhookDeliveryError(message, code, cause)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return failed(err.Error(), nil, nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set(headerName, verificationCode)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return failed(err.Error(), nil, nil, err)
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	body := d.readBody(resp.Body, url)

	if statusCode >= 200 && statusCode < 300 {
		return entities.WebhookLogResult{
			Status:       entities.WebhookLogStatusSuccess,
			StatusCode:   &statusCode,
			ResponseBody: body,
		}, nil
	}

	return failed(fmt.Sprintf("HTTP %d: %s", statusCode, statusText(resp)), &statusCode, body, nil)
}

// readBody reads at most MaxResponseBody bytes; read failures are ignored
func (d *Dispatcher) readBody(r io.Reader, url string) *string {
	data, err := io.ReadAll(io.LimitReader(r, d.config.MaxResponseBody))
	if err != nil {
		d.logger.Debug("Failed to read webhook response body", zap.String("url", url), zap.Error(err))
	}
	if len(data) == 0 {
		return nil
	}
	body := string(data)
	return &body
}

func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// Resend clears the delivery flag of an owned transaction and queues a new attempt
func (d *Dispatcher) Resend(ctx context.Context, ownerID, transactionID uuid.UUID) error {
	if _, err := d.ownedTransaction(ctx, ownerID, transactionID); err != nil {
		return err
	}
	if err := d.transactions.SetWebhookSent(ctx, transactionID, false); err != nil {
		return err
	}
	if err := d.jobs.Enqueue(ctx, queue.NewWebhookJob(transactionID), 0); err != nil {
		return fmt.Errorf("failed to enqueue webhook: %w", err)
	}

	d.logger.Info("Webhook resend queued", zap.String("transaction_id", transactionID.String()))
	return nil
}

// RecoverUndelivered queues deliveries whose job was lost before the first
// attempt, e.g. when the process exited with jobs still in memory. It returns
// the number of jobs queued.
func (d *Dispatcher) RecoverUndelivered(ctx context.Context) (int, error) {
	ids, err := d.transactions.ListUndelivered(ctx, d.now().Add(-d.config.RecoveryGrace), d.config.RecoveryBatch)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if err := d.jobs.Enqueue(ctx, queue.NewWebhookJob(id), 0); err != nil {
			return queued, fmt.Errorf("failed to enqueue webhook: %w", err)
		}
		queued++
	}
	if queued > 0 {
		d.logger.Info("Queued undelivered webhooks", zap.Int("count", queued))
	}
	return queued, nil
}

// Logs returns the delivery attempts of an owned transaction, newest first
func (d *Dispatcher) Logs(ctx context.Context, ownerID, transactionID uuid.UUID) ([]*entities.WebhookLog, error) {
	if _, err := d.ownedTransaction(ctx, ownerID, transactionID); err != nil {
		return nil, err
	}
	return d.logs.ListByTransaction(ctx, transactionID)
}

func (d *Dispatcher) ownedTransaction(ctx context.Context, ownerID, transactionID uuid.UUID) (*entities.Transaction, error) {
	tx, err := d.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, errors.NotFoundError("TRANSACTION")
	}
	if tx.OwnerID != ownerID {
		return nil, errors.ForbiddenError("transaction belongs to another user")
	}
	return tx, nil
}
