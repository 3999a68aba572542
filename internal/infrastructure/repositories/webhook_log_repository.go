package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

// WebhookLogRepository persists the append-only delivery audit trail
type WebhookLogRepository struct {
	db *sqlx.DB
}

// NewWebhookLogRepository creates a new webhook log repository
func NewWebhookLogRepository(db *sqlx.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// CountByTransaction returns how many attempts were logged for a transaction
func (r *WebhookLogRepository) CountByTransaction(ctx context.Context, transactionID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM webhook_logs WHERE transaction_id = $1`, transactionID); err != nil {
		return 0, fmt.Errorf("failed to count webhook logs: %w", err)
	}
	return count, nil
}

// Create inserts a log row, normally in pending status before the POST is issued
func (r *WebhookLogRepository) Create(ctx context.Context, log *entities.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (
			id, transaction_id, address_id, owner_id, webhook_url, status,
			status_code, error_message, request_payload, response_body,
			attempt_number, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.TransactionID,
		log.AddressID,
		log.OwnerID,
		log.WebhookURL,
		log.Status,
		log.StatusCode,
		log.ErrorMessage,
		log.RequestPayload,
		log.ResponseBody,
		log.AttemptNumber,
		log.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook log: %w", err)
	}
	return nil
}

// Complete writes the final outcome of an attempt
func (r *WebhookLogRepository) Complete(ctx context.Context, id uuid.UUID, result entities.WebhookLogResult) error {
	query := `
		UPDATE webhook_logs
		SET status = $2,
			status_code = $3,
			error_message = $4,
			response_body = $5
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, result.Status, result.StatusCode, result.ErrorMessage, result.ResponseBody)
	if err != nil {
		return fmt.Errorf("failed to update webhook log: %w", err)
	}
	return requireAffected(res, "WEBHOOK_LOG")
}

// ListByTransaction returns every attempt for a transaction, newest first
func (r *WebhookLogRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*entities.WebhookLog, error) {
	query := `
		SELECT id, transaction_id, address_id, owner_id, webhook_url, status,
			   status_code, error_message, request_payload, response_body,
			   attempt_number, sent_at
		FROM webhook_logs
		WHERE transaction_id = $1
		ORDER BY attempt_number DESC, sent_at DESC
	`

	var logs []*entities.WebhookLog
	if err := r.db.SelectContext(ctx, &logs, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	return logs, nil
}
