// Package address manages the addresses a user registers for monitoring
package address

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	"github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

// Repository persists addresses
type Repository interface {
	Create(ctx context.Context, address *entities.Address) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error)
	FindByOwnerAndAddress(ctx context.Context, ownerID uuid.UUID, token entities.Token, network entities.Network, address string) (*entities.Address, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*entities.Address, error)
	Update(ctx context.Context, address *entities.Address) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Stopper halts polling for an address before it is removed
type Stopper interface {
	Stop(ctx context.Context, addressID uuid.UUID) error
}

// Service is the address registry
type Service struct {
	repo    Repository
	stopper Stopper
	logger  *logger.Logger
	now     func() time.Time
}

// NewService creates the address registry
func NewService(repo Repository, stopper Stopper, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		stopper: stopper,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Add registers an address for ownerID. Monitoring starts disabled.
func (s *Service) Add(ctx context.Context, ownerID uuid.UUID, req *entities.CreateAddressRequest) (*entities.Address, error) {
	value := strings.TrimSpace(req.Address)
	if value == "" {
		return nil, errors.ValidationError("address", "address is required")
	}
	if !entities.IsSupportedCombination(req.Token, req.Network) {
		return nil, errors.UnsupportedCombinationError(string(req.Token), string(req.Network))
	}

	existing, err := s.repo.FindByOwnerAndAddress(ctx, ownerID, req.Token, req.Network, value)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.AlreadyExistsError("ADDRESS")
	}

	now := s.now()
	address := &entities.Address{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Token:       req.Token,
		Network:     req.Network,
		Address:     value,
		Label:       req.Label,
		IsListening: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	address.SetWebhook(req.Webhook)

	if err := s.repo.Create(ctx, address); err != nil {
		return nil, err
	}

	s.logger.Info("Address registered",
		"address_id", address.ID,
		"owner_id", ownerID,
		"token", address.Token,
		"network", address.Network)
	return address, nil
}

// Get returns an address owned by ownerID
func (s *Service) Get(ctx context.Context, ownerID, id uuid.UUID) (*entities.Address, error) {
	address, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if address == nil {
		return nil, errors.NotFoundError("ADDRESS")
	}
	if address.OwnerID != ownerID {
		return nil, errors.ForbiddenError("address belongs to another user")
	}
	return address, nil
}

// List returns every address of ownerID
func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]*entities.Address, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Update changes the label and webhook of an owned address
func (s *Service) Update(ctx context.Context, ownerID, id uuid.UUID, req *entities.UpdateAddressRequest) (*entities.Address, error) {
	address, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if req.Label != nil {
		address.Label = req.Label
	}
	switch {
	case req.ClearWebhook:
		address.SetWebhook(nil)
	case req.Webhook != nil:
		address.SetWebhook(req.Webhook)
	}
	address.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, address); err != nil {
		return nil, err
	}
	return address, nil
}

// Remove stops monitoring and deletes the address with its transactions,
// webhook logs and schedule rows
func (s *Service) Remove(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.stopper.Stop(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Address removed", "address_id", id, "owner_id", ownerID)
	return nil
}
