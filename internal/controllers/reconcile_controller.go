package controllers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/captureq/internal/services"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type reconcileController struct{ svc services.ReconcileService }

func NewReconcileController(svc services.ReconcileService) *reconcileController {
	return &reconcileController{svc}
}

// Handle runs one reconciliation pass synchronously. Probe retries make this
// slow when the backend reports unknown ids.
func (h *reconcileController) Handle(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation disabled: no backend configured"})
		return
	}
	rep, err := h.svc.RunOnce(c.Request.Context())
	if errors.Is(err, domain.ErrReconcileBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scanned":     rep.Scanned,
		"candidates":  rep.Candidates,
		"resubmitted": rep.Resubmitted,
		"aborted":     rep.Aborted,
	})
}
