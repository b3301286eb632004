package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appentitlement "github.com/verimail/backend/internal/application/entitlement"
)

// AdminHandler handles operator-facing endpoints
type AdminHandler struct {
	BaseHandler
	service *appentitlement.Service
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *appentitlement.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// ResetUsageResponse confirms a forced usage reset
type ResetUsageResponse struct {
	AccountID string `json:"account_id"`
	Reset     bool   `json:"reset"`
}

// ResetUsage godoc
// POST /api/v1/admin/accounts/:id/usage/reset
//
// Zeroes the current-period consumption of the billing account the
// given account resolves to. Support tooling only; the periodic reset
// happens lazily on read.
func (h *AdminHandler) ResetUsage(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	if err := h.service.ForceReset(c.Request.Context(), accountID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ResetUsageResponse{
		AccountID: accountID.String(),
		Reset:     true,
	})
}
