package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/verimail/backend/internal/domain/entitlement"
)

// DenialReason explains why an operation was denied. Denials are
// ordinary decision outcomes, not errors; callers branch on the
// decision.
type DenialReason string

const (
	ReasonQuotaExceeded   DenialReason = "quota_exceeded"
	ReasonFeatureDisabled DenialReason = "feature_disabled"
)

// Decision is the outcome of an authorization check. When Allowed is
// true the requested units have already been committed against the
// billing account; Remaining reflects the quota left after the commit.
// When denied, nothing was committed and Reason carries the cause.
type Decision struct {
	Allowed          bool
	Reason           DenialReason
	Remaining        int64
	BillingAccountID uuid.UUID
	Tier             entitlement.TierID
}

// allowed builds an allow decision
func allowed(billingID uuid.UUID, tier entitlement.TierID, remaining int64) Decision {
	return Decision{
		Allowed:          true,
		Remaining:        remaining,
		BillingAccountID: billingID,
		Tier:             tier,
	}
}

// denied builds a deny decision
func denied(billingID uuid.UUID, tier entitlement.TierID, reason DenialReason, remaining int64) Decision {
	return Decision{
		Allowed:          false,
		Reason:           reason,
		Remaining:        remaining,
		BillingAccountID: billingID,
		Tier:             tier,
	}
}

// QuotaStatus is the read-only quota view exposed for display. It is
// the single source of truth for limits; presentation layers must not
// hold their own tier constants.
type QuotaStatus struct {
	AccountID        uuid.UUID          `json:"account_id"`
	BillingAccountID uuid.UUID          `json:"billing_account_id"`
	Tier             entitlement.TierID `json:"tier"`
	Consumed         int64              `json:"consumed"`
	Limit            int64              `json:"limit"`
	Remaining        int64              `json:"remaining"`
	ResetsAt         *time.Time         `json:"resets_at,omitempty"`
}
