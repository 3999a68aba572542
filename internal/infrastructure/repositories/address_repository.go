package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	domainerrors "github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/database"
)

const addressColumns = `
	id, owner_id, token, network, address, label,
	webhook_url, webhook_verification_code, webhook_header_name,
	is_listening, created_at, updated_at`

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// AddressRepository persists monitored addresses
type AddressRepository struct {
	db *sqlx.DB
}

// NewAddressRepository creates a new address repository
func NewAddressRepository(db *sqlx.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

// Create inserts a new address
func (r *AddressRepository) Create(ctx context.Context, address *entities.Address) error {
	query := `
		INSERT INTO addresses (
			id, owner_id, token, network, address, label,
			webhook_url, webhook_verification_code, webhook_header_name,
			is_listening, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		address.ID,
		address.OwnerID,
		address.Token,
		address.Network,
		address.Address,
		address.Label,
		address.WebhookURL,
		address.WebhookVerificationCode,
		address.WebhookHeaderName,
		address.IsListening,
		address.CreatedAt,
		address.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domainerrors.AlreadyExistsError("ADDRESS")
		}
		return fmt.Errorf("failed to create address: %w", err)
	}

	return nil
}

// GetByID returns the address or nil when it does not exist
func (r *AddressRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1`

	var address entities.Address
	if err := r.db.GetContext(ctx, &address, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}

	return &address, nil
}

// FindByOwnerAndAddress looks up an owner's registration of the same address
func (r *AddressRepository) FindByOwnerAndAddress(ctx context.Context, ownerID uuid.UUID, token entities.Token, network entities.Network, address string) (*entities.Address, error) {
	query := `SELECT ` + addressColumns + `
		FROM addresses
		WHERE owner_id = $1 AND token = $2 AND network = $3 AND address = $4`

	var found entities.Address
	if err := r.db.GetContext(ctx, &found, query, ownerID, token, network, address); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find address: %w", err)
	}

	return &found, nil
}

// ListByOwner returns an owner's addresses, newest first
func (r *AddressRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*entities.Address, error) {
	query := `SELECT ` + addressColumns + `
		FROM addresses
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	var addresses []*entities.Address
	if err := r.db.SelectContext(ctx, &addresses, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	return addresses, nil
}

// ListListening returns every address with monitoring enabled
func (r *AddressRepository) ListListening(ctx context.Context) ([]*entities.Address, error) {
	query := `SELECT ` + addressColumns + `
		FROM addresses
		WHERE is_listening = TRUE
		ORDER BY created_at ASC`

	var addresses []*entities.Address
	if err := r.db.SelectContext(ctx, &addresses, query); err != nil {
		return nil, fmt.Errorf("failed to list listening addresses: %w", err)
	}

	return addresses, nil
}

// Update persists label and webhook changes
func (r *AddressRepository) Update(ctx context.Context, address *entities.Address) error {
	query := `
		UPDATE addresses
		SET label = $2,
			webhook_url = $3,
			webhook_verification_code = $4,
			webhook_header_name = $5,
			updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		address.ID,
		address.Label,
		address.WebhookURL,
		address.WebhookVerificationCode,
		address.WebhookHeaderName,
		address.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}

	return requireAffected(result, "ADDRESS")
}

// SetListening flips the monitoring flag
func (r *AddressRepository) SetListening(ctx context.Context, id uuid.UUID, listening bool) error {
	query := `UPDATE addresses SET is_listening = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, listening, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update listening flag: %w", err)
	}

	return requireAffected(result, "ADDRESS")
}

// Delete removes an address together with its transactions, webhook logs and schedule rows
func (r *AddressRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		statements := []string{
			`DELETE FROM webhook_logs WHERE address_id = $1`,
			`DELETE FROM transactions WHERE address_id = $1`,
			`DELETE FROM scheduled_runs WHERE address_id = $1`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete address dependents: %w", err)
			}
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete address: %w", err)
		}
		return requireAffected(result, "ADDRESS")
	})
}

func requireAffected(result sql.Result, resource string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.NotFoundError(resource)
	}
	return nil
}
