package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

const transactionColumns = `
	id, address_id, owner_id, transaction_id, token, network,
	from_address, to_address, amount::text AS amount, timestamp_ms,
	block_number, fee, status, type, webhook_sent, webhook_queued, created_at`

// TransactionRepository persists ingested transfers
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// LatestTimestamp returns the newest stored timestamp (ms) for an address, or nil if none
func (r *TransactionRepository) LatestTimestamp(ctx context.Context, addressID uuid.UUID) (*int64, error) {
	query := `SELECT MAX(timestamp_ms) FROM transactions WHERE address_id = $1`

	var latest sql.NullInt64
	if err := r.db.GetContext(ctx, &latest, query, addressID); err != nil {
		return nil, fmt.Errorf("failed to get latest transaction timestamp: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Int64, nil
}

// InsertIfAbsent stores tx unless (address_id, transaction_id) already exists.
// It returns true only when a new row was written.
func (r *TransactionRepository) InsertIfAbsent(ctx context.Context, tx *entities.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (
			id, address_id, owner_id, transaction_id, token, network,
			from_address, to_address, amount, timestamp_ms,
			block_number, fee, status, type, webhook_sent, webhook_queued, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (address_id, transaction_id) DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		tx.ID,
		tx.AddressID,
		tx.OwnerID,
		tx.TransactionID,
		tx.Token,
		tx.Network,
		tx.From,
		tx.To,
		tx.Amount,
		tx.Timestamp,
		tx.BlockNumber,
		tx.Fee,
		tx.Status,
		tx.Type,
		tx.WebhookSent,
		tx.WebhookQueued,
		tx.CreatedAt,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return true, nil
}

// GetByID returns the transaction or nil when it does not exist
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	var tx entities.Transaction
	if err := r.db.GetContext(ctx, &tx, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// ListByAddress returns an address's transactions, newest first
func (r *TransactionRepository) ListByAddress(ctx context.Context, addressID uuid.UUID, limit, offset int) ([]*entities.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE address_id = $1
		ORDER BY timestamp_ms DESC
		LIMIT $2 OFFSET $3`

	var txs []*entities.Transaction
	if err := r.db.SelectContext(ctx, &txs, query, addressID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// ListUndelivered returns transactions queued for a webhook at ingest that
// were never attempted, oldest first. Rows created after before are skipped
// so deliveries still on their way through the queue are left alone.
func (r *TransactionRepository) ListUndelivered(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT t.id
		FROM transactions t
		JOIN addresses a ON a.id = t.address_id
		WHERE t.webhook_queued AND NOT t.webhook_sent
			AND t.created_at < $1
			AND a.webhook_url IS NOT NULL AND a.webhook_url <> ''
			AND NOT EXISTS (SELECT 1 FROM webhook_logs l WHERE l.transaction_id = t.id)
		ORDER BY t.created_at
		LIMIT $2`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list undelivered transactions: %w", err)
	}
	return ids, nil
}

// SetWebhookSent updates the delivery flag
func (r *TransactionRepository) SetWebhookSent(ctx context.Context, id uuid.UUID, sent bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE transactions SET webhook_sent = $2 WHERE id = $1`, id, sent)
	if err != nil {
		return fmt.Errorf("failed to update webhook flag: %w", err)
	}
	return requireAffected(result, "TRANSACTION")
}
