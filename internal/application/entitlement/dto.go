package entitlement

import (
	"sort"

	"github.com/verimail/backend/internal/domain/entitlement"
)

// TierBundleDTO is the displayable form of a tier's entitlement bundle
type TierBundleDTO struct {
	Tier        string   `json:"tier"`
	DisplayName string   `json:"display_name"`
	Limit       int64    `json:"limit"`
	Reset       string   `json:"reset"`
	Features    []string `json:"features"`
}

func toTierBundleDTO(b entitlement.Bundle) TierBundleDTO {
	features := make([]string, 0)
	for _, f := range b.Features() {
		features = append(features, string(f))
	}
	sort.Strings(features)
	return TierBundleDTO{
		Tier:        string(b.Tier),
		DisplayName: b.Tier.DisplayName(),
		Limit:       b.Limit,
		Reset:       string(b.Reset),
		Features:    features,
	}
}
