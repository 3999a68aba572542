package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

const (
	defaultTransactionPageSize = 50
	maxTransactionPageSize     = 200
)

// AddressService manages an owner's registered addresses
type AddressService interface {
	Add(ctx context.Context, ownerID uuid.UUID, req *entities.CreateAddressRequest) (*entities.Address, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*entities.Address, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*entities.Address, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, req *entities.UpdateAddressRequest) (*entities.Address, error)
	Remove(ctx context.Context, ownerID, id uuid.UUID) error
}

// ListeningService toggles monitoring and reports schedule state
type ListeningService interface {
	SetListening(ctx context.Context, ownerID, addressID uuid.UUID, listening bool) (*entities.Address, error)
	Status(ctx context.Context, addressID uuid.UUID) (*entities.ScheduledRun, error)
}

// TransactionLister pages through the stored transactions of an address
type TransactionLister interface {
	ListByAddress(ctx context.Context, addressID uuid.UUID, limit, offset int) ([]*entities.Transaction, error)
}

// AddressHandlers serves the address registry
type AddressHandlers struct {
	addresses    AddressService
	monitoring   ListeningService
	transactions TransactionLister
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAddressHandlers creates a new AddressHandlers instance
func NewAddressHandlers(addresses AddressService, monitoring ListeningService, transactions TransactionLister, logger *zap.Logger) *AddressHandlers {
	return &AddressHandlers{
		addresses:    addresses,
		monitoring:   monitoring,
		transactions: transactions,
		validator:    validator.New(),
		logger:       logger,
	}
}

// ListAddresses handles GET /api/v1/addresses
func (h *AddressHandlers) ListAddresses(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}

	addresses, err := h.addresses.List(c.Request.Context(), ownerID)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	out := make([]entities.AddressResponse, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, a.ToResponse())
	}
	SendSuccess(c, gin.H{"addresses": out})
}

// CreateAddress handles POST /api/v1/addresses
func (h *AddressHandlers) CreateAddress(c *gin.Context) {
	ownerID, ok := h.owner(c)
	if !ok {
		return
	}

	var req entities.CreateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if !h.validWebhook(c, req.Webhook) {
		return
	}

	address, err := h.addresses.Add(c.Request.Context(), ownerID, &req)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Debug("Address created",
		zap.String("address_id", address.ID.String()),
		zap.String("request_id", getRequestID(c)))
	SendCreated(c, address.ToResponse())
}

// GetAddress handles GET /api/v1/addresses/:id
func (h *AddressHandlers) GetAddress(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	address, err := h.addresses.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, address.ToResponse())
}

// UpdateAddress handles PATCH /api/v1/addresses/:id
func (h *AddressHandlers) UpdateAddress(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	var req entities.UpdateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if !h.validWebhook(c, req.Webhook) {
		return
	}

	address, err := h.addresses.Update(c.Request.Context(), ownerID, id, &req)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, address.ToResponse())
}

// DeleteAddress handles DELETE /api/v1/addresses/:id
func (h *AddressHandlers) DeleteAddress(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	if err := h.addresses.Remove(c.Request.Context(), ownerID, id); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendNoContent(c)
}

// SetListening handles POST /api/v1/addresses/:id/listening
func (h *AddressHandlers) SetListening(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	var req entities.SetListeningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	address, err := h.monitoring.SetListening(c.Request.Context(), ownerID, id, *req.Listening)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, address.ToResponse())
}

// GetSchedule handles GET /api/v1/addresses/:id/schedule
func (h *AddressHandlers) GetSchedule(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.addresses.Get(ctx, ownerID, id); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	run, err := h.monitoring.Status(ctx, id)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, gin.H{"schedule": run})
}

// ListTransactions handles GET /api/v1/addresses/:id/transactions
func (h *AddressHandlers) ListTransactions(c *gin.Context) {
	ownerID, id, ok := h.ownerAndID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.addresses.Get(ctx, ownerID, id); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	limit := parseIntParam(c, "limit", defaultTransactionPageSize)
	if limit <= 0 || limit > maxTransactionPageSize {
		limit = defaultTransactionPageSize
	}
	offset := parseIntParam(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	txs, err := h.transactions.ListByAddress(ctx, id, limit, offset)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	if txs == nil {
		txs = []*entities.Transaction{}
	}
	SendSuccess(c, gin.H{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *AddressHandlers) validWebhook(c *gin.Context, webhook *entities.WebhookConfig) bool {
	if webhook == nil {
		return true
	}
	if err := h.validator.Struct(webhook); err != nil {
		SendValidationError(c, "Invalid webhook configuration", fieldErrors(err))
		return false
	}
	return true
}

func (h *AddressHandlers) owner(c *gin.Context) (uuid.UUID, bool) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.logger.Warn("Invalid or missing owner ID", zap.Error(err))
		SendUnauthorized(c, MsgUnauthorized)
		return uuid.Nil, false
	}
	return ownerID, true
}

func (h *AddressHandlers) ownerAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := h.owner(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := parseIDParam(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, id, true
}
