package address

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	domainerrors "github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, address *entities.Address) error {
	return m.Called(ctx, address).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Address), args.Error(1)
}

func (m *MockRepository) FindByOwnerAndAddress(ctx context.Context, ownerID uuid.UUID, token entities.Token, network entities.Network, address string) (*entities.Address, error) {
	args := m.Called(ctx, ownerID, token, network, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Address), args.Error(1)
}

func (m *MockRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*entities.Address, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).([]*entities.Address), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, address *entities.Address) error {
	return m.Called(ctx, address).Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockStopper struct {
	mock.Mock
}

func (m *MockStopper) Stop(ctx context.Context, addressID uuid.UUID) error {
	return m.Called(ctx, addressID).Error(0)
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()

	t.Run("registers with listening disabled", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("FindByOwnerAndAddress", ctx, ownerID, entities.TokenUSDT, entities.NetworkTron, "TAddr").Return(nil, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*entities.Address")).Return(nil)

		svc := NewService(repo, new(MockStopper), logger.NewNop())
		address, err := svc.Add(ctx, ownerID, &entities.CreateAddressRequest{
			Token:   entities.TokenUSDT,
			Network: entities.NetworkTron,
			Address: " TAddr ",
			Webhook: &entities.WebhookConfig{URL: "https://hooks.example.com/in", VerificationCode: "s3cret"},
		})
		require.NoError(t, err)
		assert.Equal(t, "TAddr", address.Address)
		assert.False(t, address.IsListening)
		require.NotNil(t, address.Webhook())
		assert.Equal(t, entities.DefaultWebhookHeader, address.Webhook().HeaderName)
		repo.AssertExpectations(t)
	})

	t.Run("rejects unsupported combination", func(t *testing.T) {
		svc := NewService(new(MockRepository), new(MockStopper), logger.NewNop())
		_, err := svc.Add(ctx, ownerID, &entities.CreateAddressRequest{
			Token: entities.TokenETH, Network: entities.NetworkTron, Address: "x",
		})
		assert.True(t, domainerrors.IsUnsupportedCombination(err))
	})

	t.Run("rejects duplicates per owner", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("FindByOwnerAndAddress", ctx, ownerID, entities.TokenETH, entities.NetworkEthereum, "0xabc").
			Return(&entities.Address{ID: uuid.New()}, nil)

		svc := NewService(repo, new(MockStopper), logger.NewNop())
		_, err := svc.Add(ctx, ownerID, &entities.CreateAddressRequest{
			Token: entities.TokenETH, Network: entities.NetworkEthereum, Address: "0xabc",
		})
		assert.True(t, domainerrors.IsAlreadyExists(err))
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	id := uuid.New()

	newAddress := func() *entities.Address {
		a := &entities.Address{ID: id, OwnerID: ownerID, Token: entities.TokenETH, Network: entities.NetworkEthereum}
		a.SetWebhook(&entities.WebhookConfig{URL: "https://old.example.com", VerificationCode: "c"})
		return a
	}

	t.Run("clears webhook", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByID", ctx, id).Return(newAddress(), nil)
		repo.On("Update", ctx, mock.Anything).Return(nil)

		updated, err := NewService(repo, new(MockStopper), logger.NewNop()).
			Update(ctx, ownerID, id, &entities.UpdateAddressRequest{ClearWebhook: true})
		require.NoError(t, err)
		assert.Nil(t, updated.Webhook())
	})

	t.Run("sets label and custom header", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByID", ctx, id).Return(newAddress(), nil)
		repo.On("Update", ctx, mock.Anything).Return(nil)

		label := "cold wallet"
		updated, err := NewService(repo, new(MockStopper), logger.NewNop()).Update(ctx, ownerID, id, &entities.UpdateAddressRequest{
			Label:   &label,
			Webhook: &entities.WebhookConfig{URL: "https://new.example.com", VerificationCode: "n", HeaderName: "X-Custom"},
		})
		require.NoError(t, err)
		assert.Equal(t, "cold wallet", *updated.Label)
		assert.Equal(t, "X-Custom", updated.Webhook().HeaderName)
	})

	t.Run("forbidden for other owners", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("GetByID", ctx, id).Return(newAddress(), nil)

		_, err := NewService(repo, new(MockStopper), logger.NewNop()).
			Update(ctx, uuid.New(), id, &entities.UpdateAddressRequest{})
		assert.True(t, domainerrors.IsForbidden(err))
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	id := uuid.New()

	repo := new(MockRepository)
	repo.On("GetByID", ctx, id).Return(&entities.Address{ID: id, OwnerID: ownerID}, nil)
	repo.On("Delete", ctx, id).Return(nil)
	stopper := new(MockStopper)
	stopper.On("Stop", ctx, id).Return(nil)

	require.NoError(t, NewService(repo, stopper, logger.NewNop()).Remove(ctx, ownerID, id))
	repo.AssertExpectations(t)
	stopper.AssertExpectations(t)
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	id := uuid.New()
	repo.On("GetByID", ctx, id).Return(nil, nil)

	_, err := NewService(repo, new(MockStopper), logger.NewNop()).Get(ctx, uuid.New(), id)
	assert.True(t, domainerrors.IsNotFound(err))
}
