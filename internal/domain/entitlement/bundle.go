package entitlement

import "fmt"

// Bundle is the entitlement package attached to a tier: a usage limit,
// a reset cadence, and the set of enabled capability flags.
// Bundles are immutable once the registry is built.
type Bundle struct {
	Tier     TierID
	Limit    int64
	Reset    ResetPeriod
	features map[Feature]bool
}

// NewBundle creates a validated bundle
func NewBundle(tier TierID, limit int64, reset ResetPeriod, features ...Feature) (Bundle, error) {
	if !tier.IsValid() {
		return Bundle{}, fmt.Errorf("invalid tier %q", tier)
	}
	if limit <= 0 {
		return Bundle{}, fmt.Errorf("tier %s: limit must be positive, got %d", tier, limit)
	}
	if !reset.IsValid() {
		return Bundle{}, fmt.Errorf("tier %s: invalid reset period %q", tier, reset)
	}
	fs := make(map[Feature]bool, len(features))
	for _, f := range features {
		if !f.IsValid() {
			return Bundle{}, fmt.Errorf("tier %s: unknown feature %q", tier, f)
		}
		fs[f] = true
	}
	return Bundle{Tier: tier, Limit: limit, Reset: reset, features: fs}, nil
}

// HasFeature reports whether the bundle grants the given capability
func (b Bundle) HasFeature(f Feature) bool {
	return b.features[f]
}

// Features returns the enabled capability flags as a copy
func (b Bundle) Features() []Feature {
	out := make([]Feature, 0, len(b.features))
	for f := range b.features {
		out = append(out, f)
	}
	return out
}
