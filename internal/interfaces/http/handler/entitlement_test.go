package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appentitlement "github.com/verimail/backend/internal/application/entitlement"
	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/domain/usage"
	"github.com/verimail/backend/internal/infrastructure/cache"
)

// fakeResolver maps account IDs straight to themselves with a fixed tier
type fakeResolver struct {
	tiers map[uuid.UUID]entitlement.TierID
	err   error
}

func (r *fakeResolver) BillingAccountFor(_ context.Context, accountID uuid.UUID) (uuid.UUID, entitlement.TierID, error) {
	if r.err != nil {
		return uuid.Nil, "", r.err
	}
	tier, ok := r.tiers[accountID]
	if !ok {
		return uuid.Nil, "", fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID)
	}
	return accountID, tier, nil
}

// contentionLedger always reports a storage race on commit
type contentionLedger struct{}

func (l *contentionLedger) CurrentUsage(_ context.Context, billingID uuid.UUID, _ entitlement.Bundle) (usage.Record, error) {
	return usage.Record{BillingAccountID: billingID}, nil
}

func (l *contentionLedger) Commit(_ context.Context, _ uuid.UUID, _ entitlement.Bundle, _ int64) (int64, error) {
	return 0, shared.ErrConcurrencyConflict
}

func (l *contentionLedger) ForceReset(_ context.Context, _ uuid.UUID, _ entitlement.Bundle) error {
	return nil
}

func newTestRouter(t *testing.T, resolver appentitlement.BillingResolver, ledger usage.Ledger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := entitlement.NewRegistry()
	require.NoError(t, err)

	service := appentitlement.NewService(registry, resolver, ledger, nil)
	eh := NewEntitlementHandler(service, 3)
	ah := NewAdminHandler(service)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/entitlements/authorize", eh.Authorize)
	v1.GET("/entitlements/accounts/:id/quota", eh.GetQuota)
	v1.GET("/entitlements/tiers", eh.ListTiers)
	v1.POST("/admin/accounts/:id/usage/reset", ah.ResetUsage)
	return router
}

func postAuthorize(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/entitlements/authorize", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func authorizeBody(accountID uuid.UUID, kind string, count int64) string {
	return fmt.Sprintf(`{"account_id":%q,"operation":{"kind":%q,"count":%d}}`, accountID, kind, count)
}

func decodeDecision(t *testing.T, w *httptest.ResponseRecorder) AuthorizeResponse {
	t.Helper()
	var resp struct {
		Success bool              `json:"success"`
		Data    AuthorizeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Data
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	return resp.Error.Code
}

func TestEntitlementHandler_AuthorizeAllow(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(accountID, "validate", 1))

	assert.Equal(t, http.StatusOK, w.Code)
	decision := decodeDecision(t, w)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	assert.Equal(t, int64(9), decision.Remaining)
	assert.Equal(t, accountID.String(), decision.BillingAccountID)
	assert.Equal(t, "free", decision.Tier)
}

func TestEntitlementHandler_AuthorizeQuotaDenialIs200(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(accountID, "validate", 10))
	assert.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeDecision(t, w).Allowed)

	// Quota is now exhausted; denial is a decision, not an error
	w = postAuthorize(router, authorizeBody(accountID, "validate", 1))
	assert.Equal(t, http.StatusOK, w.Code)
	decision := decodeDecision(t, w)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "quota_exceeded", decision.Reason)
	assert.Equal(t, int64(0), decision.Remaining)
}

func TestEntitlementHandler_AuthorizeFeatureDenial(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(accountID, "batch_validate", 5))

	assert.Equal(t, http.StatusOK, w.Code)
	decision := decodeDecision(t, w)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "feature_disabled", decision.Reason)
}

func TestEntitlementHandler_AuthorizeValidation(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	tests := []struct {
		name           string
		body           string
		expectedStatus int
	}{
		{
			name:           "malformed json",
			body:           `{"account_id":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing operation kind",
			body:           fmt.Sprintf(`{"account_id":%q,"operation":{"count":1}}`, accountID),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "non-uuid account id",
			body:           `{"account_id":"not-a-uuid","operation":{"kind":"validate","count":1}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown operation kind",
			body:           authorizeBody(accountID, "teleport", 1),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "zero count",
			body:           authorizeBody(accountID, "validate", 0),
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postAuthorize(router, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestEntitlementHandler_AuthorizeAccountNotFound(t *testing.T) {
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(uuid.New(), "validate", 1))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ERR_ACCOUNT_NOT_FOUND", decodeErrorCode(t, w))
}

func TestEntitlementHandler_AuthorizeOwnershipCycle(t *testing.T) {
	resolver := &fakeResolver{err: shared.ErrOwnershipCycle}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(uuid.New(), "validate", 1))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ERR_OWNERSHIP_CYCLE", decodeErrorCode(t, w))
}

func TestEntitlementHandler_AuthorizeUnknownTier(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: "enterprise"}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := postAuthorize(router, authorizeBody(accountID, "validate", 1))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ERR_UNKNOWN_TIER", decodeErrorCode(t, w))
}

func TestEntitlementHandler_AuthorizeRetryExhaustionIs503(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, &contentionLedger{})

	w := postAuthorize(router, authorizeBody(accountID, "validate", 1))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "ERR_LEDGER_UNAVAILABLE", decodeErrorCode(t, w))
}

func TestEntitlementHandler_GetQuota(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierStarter}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/entitlements/accounts/"+accountID.String()+"/quota", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                       `json:"success"`
		Data    appentitlement.QuotaStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	assert.Equal(t, accountID, resp.Data.AccountID)
	assert.Equal(t, entitlement.TierStarter, resp.Data.Tier)
	assert.Equal(t, int64(0), resp.Data.Consumed)
	assert.Equal(t, int64(10_000), resp.Data.Limit)
	assert.Equal(t, int64(10_000), resp.Data.Remaining)
	assert.NotNil(t, resp.Data.ResetsAt)
}

func TestEntitlementHandler_GetQuotaInvalidID(t *testing.T) {
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/entitlements/accounts/not-a-uuid/quota", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntitlementHandler_ListTiers(t *testing.T) {
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/entitlements/tiers", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                           `json:"success"`
		Data    []appentitlement.TierBundleDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)
	assert.Equal(t, entitlement.TierFree, entitlement.TierID(resp.Data[0].Tier))
	assert.Equal(t, entitlement.TierStarter, entitlement.TierID(resp.Data[1].Tier))
	assert.Equal(t, entitlement.TierPro, entitlement.TierID(resp.Data[2].Tier))
	assert.Equal(t, int64(10_000_000), resp.Data[2].Limit)
}

func TestAdminHandler_ResetUsage(t *testing.T) {
	accountID := uuid.New()
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{accountID: entitlement.TierFree}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	// Exhaust the free quota
	w := postAuthorize(router, authorizeBody(accountID, "validate", 10))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeDecision(t, w).Allowed)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/admin/accounts/"+accountID.String()+"/usage/reset", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Quota is available again
	w = postAuthorize(router, authorizeBody(accountID, "validate", 1))
	assert.Equal(t, http.StatusOK, w.Code)
	decision := decodeDecision(t, w)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(9), decision.Remaining)
}

func TestAdminHandler_ResetUsageUnknownAccount(t *testing.T) {
	resolver := &fakeResolver{tiers: map[uuid.UUID]entitlement.TierID{}}
	router := newTestRouter(t, resolver, cache.NewInMemoryUsageLedger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/admin/accounts/"+uuid.NewString()+"/usage/reset", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
