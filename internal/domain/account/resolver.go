package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
)

// Resolver maps any account to the billing account its quota is
// tracked against. Standalone and owner accounts bill themselves; a
// sub-account bills its Pro owner and inherits the owner's tier for
// every quota and feature decision.
type Resolver struct {
	directory Directory
}

// NewResolver creates a resolver over an account directory
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// BillingAccountFor returns the billing account ID and effective tier
// for an account. The directory enforces single-level ownership at
// creation time; a chain deeper than one hop is treated as
// shared.ErrOwnershipCycle rather than followed.
func (r *Resolver) BillingAccountFor(ctx context.Context, accountID uuid.UUID) (uuid.UUID, entitlement.TierID, error) {
	acct, err := r.directory.FindByID(ctx, accountID)
	if err != nil {
		return uuid.Nil, "", err
	}

	if !acct.IsSubAccount() {
		return acct.ID, acct.TierID, nil
	}

	owner, err := r.directory.FindByID(ctx, *acct.OwnerID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("resolving owner of %s: %w", accountID, err)
	}
	if owner.IsSubAccount() {
		return uuid.Nil, "", fmt.Errorf("%w: account %s is owned by sub-account %s",
			shared.ErrOwnershipCycle, accountID, owner.ID)
	}

	return owner.ID, owner.TierID, nil
}
