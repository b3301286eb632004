package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appentitlement "github.com/verimail/backend/internal/application/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/interfaces/http/dto"
	"github.com/verimail/backend/internal/interfaces/http/middleware"
)

// EntitlementHandler handles authorization and quota HTTP requests
type EntitlementHandler struct {
	BaseHandler
	service    *appentitlement.Service
	maxRetries int
}

// NewEntitlementHandler creates a new entitlement handler. maxRetries
// bounds how many times a single authorize request is retried when a
// concurrent commit invalidates the usage read.
func NewEntitlementHandler(service *appentitlement.Service, maxRetries int) *EntitlementHandler {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &EntitlementHandler{
		service:    service,
		maxRetries: maxRetries,
	}
}

// OperationRequest describes the action an account wants to perform
type OperationRequest struct {
	Kind  string `json:"kind" binding:"required"`
	Count int64  `json:"count"`
}

// AuthorizeRequest is the body of POST /entitlements/authorize
type AuthorizeRequest struct {
	AccountID string           `json:"account_id" binding:"required,uuid"`
	Operation OperationRequest `json:"operation" binding:"required"`
}

// AuthorizeResponse is the decision envelope returned for an
// authorization check. Denials are ordinary 200 responses; the caller
// branches on allowed.
type AuthorizeResponse struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	Remaining        int64  `json:"remaining"`
	BillingAccountID string `json:"billing_account_id"`
	Tier             string `json:"tier"`
}

// Authorize godoc
// POST /api/v1/entitlements/authorize
func (h *EntitlementHandler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	op, err := appentitlement.NewOperation(req.Operation.Kind, req.Operation.Count)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var decision appentitlement.Decision
	for attempt := 0; attempt < h.maxRetries; attempt++ {
		decision, err = h.service.Authorize(c.Request.Context(), accountID, op)
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			break
		}
	}
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		h.ServiceUnavailable(c, dto.ErrCodeLedgerUnavailable,
			"Usage ledger is under contention, retry the request")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, AuthorizeResponse{
		Allowed:          decision.Allowed,
		Reason:           string(decision.Reason),
		Remaining:        decision.Remaining,
		BillingAccountID: decision.BillingAccountID.String(),
		Tier:             string(decision.Tier),
	})
}

// GetQuota godoc
// GET /api/v1/entitlements/accounts/:id/quota
func (h *EntitlementHandler) GetQuota(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid account ID format")
		return
	}

	status, err := h.service.RemainingQuota(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, status)
}

// ListTiers godoc
// GET /api/v1/entitlements/tiers
func (h *EntitlementHandler) ListTiers(c *gin.Context) {
	h.Success(c, h.service.TierCatalog())
}
