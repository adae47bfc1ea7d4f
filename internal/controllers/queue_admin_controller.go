package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type QueueStatsReader interface {
	QueueStats(ctx context.Context) (*domain.QueueStats, error)
}

type queuesAdminController struct{ repo QueueStatsReader }

func NewQueuesAdminController(repo QueueStatsReader) *queuesAdminController {
	return &queuesAdminController{repo}
}

func (h *queuesAdminController) Handle(c *gin.Context) {
	out, err := h.repo.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}
