package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

// WebhookService resends deliveries and exposes their audit trail
type WebhookService interface {
	Resend(ctx context.Context, ownerID, transactionID uuid.UUID) error
	Logs(ctx context.Context, ownerID, transactionID uuid.UUID) ([]*entities.WebhookLog, error)
}

// WebhookHandlers serves manual webhook operations on transactions
type WebhookHandlers struct {
	webhooks WebhookService
	logger   *zap.Logger
}

func NewWebhookHandlers(webhooks WebhookService, logger *zap.Logger) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks, logger: logger}
}

// Resend handles POST /api/v1/transactions/:id/webhook/resend
func (h *WebhookHandlers) Resend(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		SendUnauthorized(c, MsgUnauthorized)
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.webhooks.Resend(c.Request.Context(), ownerID, id); err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendAccepted(c, gin.H{"transaction_id": id, "status": "queued"})
}

// Logs handles GET /api/v1/transactions/:id/webhook/logs
func (h *WebhookHandlers) Logs(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		SendUnauthorized(c, MsgUnauthorized)
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	logs, err := h.webhooks.Logs(c.Request.Context(), ownerID, id)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	if logs == nil {
		logs = []*entities.WebhookLog{}
	}
	SendSuccess(c, gin.H{"logs": logs})
}
