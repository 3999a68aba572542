package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
)

// ScheduleAdmin is the operator surface of the monitoring service
type ScheduleAdmin interface {
	CleanupStale(ctx context.Context, threshold time.Duration) (*entities.CleanupResult, error)
	Restart(ctx context.Context) (*entities.RestartResult, error)
}

// MonitoringHandlers serves admin schedule maintenance
type MonitoringHandlers struct {
	admin  ScheduleAdmin
	logger *zap.Logger
}

func NewMonitoringHandlers(admin ScheduleAdmin, logger *zap.Logger) *MonitoringHandlers {
	return &MonitoringHandlers{admin: admin, logger: logger}
}

// Restart handles POST /api/v1/admin/monitoring/restart
func (h *MonitoringHandlers) Restart(c *gin.Context) {
	result, err := h.admin.Restart(c.Request.Context())
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}

	h.logger.Info("Listening addresses restarted",
		zap.Int("restarted", result.RestartedCount),
		zap.Int("listening", result.TotalListening),
		zap.String("request_id", getRequestID(c)))
	SendSuccess(c, result)
}

// Cleanup handles POST /api/v1/admin/monitoring/cleanup. An empty body uses
// the default stale threshold.
func (h *MonitoringHandlers) Cleanup(c *gin.Context) {
	var req entities.CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		SendBadRequest(c, ErrCodeInvalidRequest, MsgInvalidRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	var threshold time.Duration
	if req.ThresholdMs != nil {
		threshold = time.Duration(*req.ThresholdMs) * time.Millisecond
	}

	result, err := h.admin.CleanupStale(c.Request.Context(), threshold)
	if err != nil {
		SendDomainError(c, h.logger, err)
		return
	}
	SendSuccess(c, result)
}
