package usage

import (
	"context"

	"github.com/google/uuid"

	"github.com/verimail/backend/internal/domain/entitlement"
)

// Ledger tracks consumed quota units per billing account. Quota is only
// ever recorded against billing accounts (accounts with no owner); the
// caller resolves sub-accounts to their owner before touching the
// ledger.
//
// Implementations must make Commit behave as if serialized per billing
// account: two concurrent near-limit commits must never both succeed
// past the ceiling.
type Ledger interface {
	// CurrentUsage returns the effective record for a billing account,
	// applying the lazy periodic reset. When the stored record belongs
	// to an expired period it is rewritten to (0, currentPeriodStart)
	// before being returned, so subsequent reads stay consistent
	// without a background sweep. A billing account that has never
	// consumed reads as a zero record in the current period.
	CurrentUsage(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) (Record, error)

	// Commit atomically adds delta to the effective consumed count,
	// succeeding only when the result stays within bundle.Limit.
	// Returns shared.ErrQuotaExceeded when the ceiling would be
	// crossed (nothing is committed) and shared.ErrConcurrencyConflict
	// when a storage race is detected and the caller should retry.
	// A delta is applied in full or not at all.
	Commit(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle, delta int64) (int64, error)

	// ForceReset zeroes a billing account's record and restamps its
	// period. Administrative remediation only.
	ForceReset(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) error
}
