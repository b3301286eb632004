package entitlement

import (
	"fmt"

	"github.com/verimail/backend/internal/domain/shared"
)

// tierOrder defines the display ordering of tiers
var tierOrder = []TierID{TierFree, TierStarter, TierPro}

// Registry maps tier IDs to their entitlement bundles. It is built once
// at process start and never mutated afterwards, so lookups are safe
// for unsynchronized concurrent use.
type Registry struct {
	bundles map[TierID]Bundle
}

// Override replaces a default bundle at registry construction time.
// Overrides come from deployment configuration; there is no runtime
// mutation path.
type Override struct {
	Tier     TierID
	Limit    int64
	Reset    ResetPeriod
	Features []Feature
}

// NewRegistry builds a registry with the default bundles, applying any
// deployment-time overrides on top.
func NewRegistry(overrides ...Override) (*Registry, error) {
	defaults := []struct {
		tier     TierID
		limit    int64
		reset    ResetPeriod
		features []Feature
	}{
		{TierFree, 10, ResetDaily, nil},
		{TierStarter, 10_000, ResetMonthly, []Feature{FeatureBatchValidation}},
		{TierPro, 10_000_000, ResetLifetime, []Feature{FeatureBatchValidation, FeatureEmailSending}},
	}

	bundles := make(map[TierID]Bundle, len(defaults))
	for _, d := range defaults {
		b, err := NewBundle(d.tier, d.limit, d.reset, d.features...)
		if err != nil {
			return nil, err
		}
		bundles[d.tier] = b
	}

	for _, o := range overrides {
		if _, ok := bundles[o.Tier]; !ok {
			return nil, fmt.Errorf("override for undefined tier %q", o.Tier)
		}
		b, err := NewBundle(o.Tier, o.Limit, o.Reset, o.Features...)
		if err != nil {
			return nil, fmt.Errorf("invalid override: %w", err)
		}
		bundles[o.Tier] = b
	}

	return &Registry{bundles: bundles}, nil
}

// Lookup returns the bundle for a tier ID. Unknown tiers surface as an
// error so a provisioning bug is never masked by a silent default.
func (r *Registry) Lookup(tier TierID) (Bundle, error) {
	b, ok := r.bundles[tier]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: %q", shared.ErrUnknownTier, tier)
	}
	return b, nil
}

// Tiers returns all defined tier IDs in display order
func (r *Registry) Tiers() []TierID {
	out := make([]TierID, 0, len(r.bundles))
	for _, t := range tierOrder {
		if _, ok := r.bundles[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
