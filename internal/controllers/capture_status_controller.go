package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type StatusReader interface {
	Status(ctx context.Context, uuid string) (*domain.CaptureStatus, error)
}

type captureStatusController struct{ repo StatusReader }

func NewCaptureStatusController(repo StatusReader) *captureStatusController {
	return &captureStatusController{repo}
}

func (h *captureStatusController) Handle(c *gin.Context) {
	id := strings.TrimSpace(c.Param("uuid"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uuid is required"})
		return
	}
	st, err := h.repo.Status(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st.State == domain.StateUnknown {
		c.JSON(http.StatusNotFound, st)
		return
	}
	c.JSON(http.StatusOK, st)
}
