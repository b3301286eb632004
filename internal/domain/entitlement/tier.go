package entitlement

import (
	"fmt"
	"strings"

	"github.com/verimail/backend/internal/domain/shared"
)

// TierID identifies a subscription tier
type TierID string

const (
	TierFree    TierID = "free"
	TierStarter TierID = "starter"
	TierPro     TierID = "pro"
)

// IsValid checks if the tier ID is one of the defined tiers
func (t TierID) IsValid() bool {
	switch t {
	case TierFree, TierStarter, TierPro:
		return true
	}
	return false
}

// DisplayName returns a human-readable tier name
func (t TierID) DisplayName() string {
	switch t {
	case TierFree:
		return "Free"
	case TierStarter:
		return "Starter"
	case TierPro:
		return "Pro"
	default:
		return string(t)
	}
}

// ParseTierID parses a string into a TierID, failing on unknown values.
// Unknown tiers are a provisioning error and are never defaulted to free.
func ParseTierID(s string) (TierID, error) {
	t := TierID(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownTier, s)
	}
	return t, nil
}

// ResetPeriod defines how often a usage counter returns to zero
type ResetPeriod string

const (
	ResetDaily    ResetPeriod = "DAILY"
	ResetMonthly  ResetPeriod = "MONTHLY"
	ResetLifetime ResetPeriod = "LIFETIME"
)

// IsValid checks if the reset period is valid
func (p ResetPeriod) IsValid() bool {
	switch p {
	case ResetDaily, ResetMonthly, ResetLifetime:
		return true
	}
	return false
}

// IsPeriodic reports whether the counter ever resets
func (p ResetPeriod) IsPeriodic() bool {
	return p == ResetDaily || p == ResetMonthly
}

// DisplayName returns a human-readable period name
func (p ResetPeriod) DisplayName() string {
	switch p {
	case ResetDaily:
		return "Daily"
	case ResetMonthly:
		return "Monthly"
	case ResetLifetime:
		return "Lifetime"
	default:
		return string(p)
	}
}

// ParseResetPeriod parses a string into a ResetPeriod, case-insensitively
func ParseResetPeriod(s string) (ResetPeriod, error) {
	p := ResetPeriod(strings.ToUpper(s))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: unknown reset period %q", shared.ErrInvalidInput, s)
	}
	return p, nil
}

// Feature is a capability flag granted by a tier
type Feature string

const (
	FeatureBatchValidation Feature = "batch_validation"
	FeatureEmailSending    Feature = "email_sending"
)

// IsValid checks if the feature is a known capability
func (f Feature) IsValid() bool {
	switch f {
	case FeatureBatchValidation, FeatureEmailSending:
		return true
	}
	return false
}
