package account

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
)

// Account is a billable entity in the directory. OwnerID is set only
// for sub-accounts; standalone and Pro-owner accounts carry no owner
// reference. A sub-account's TierID is a nominal label kept for
// display; quota and feature decisions always resolve through the
// owner.
type Account struct {
	shared.BaseEntity
	Email   string
	TierID  entitlement.TierID
	OwnerID *uuid.UUID
}

// NewAccount creates a standalone account
func NewAccount(email string, tier entitlement.TierID) (*Account, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if !tier.IsValid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownTier, tier)
	}
	return &Account{
		BaseEntity: shared.NewBaseEntity(),
		Email:      email,
		TierID:     tier,
	}, nil
}

// NewSubAccount creates an account owned by a Pro account. Only Pro
// accounts may own sub-accounts, and an owner must not itself be
// owned.
func NewSubAccount(email string, nominalTier entitlement.TierID, owner *Account) (*Account, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if !nominalTier.IsValid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownTier, nominalTier)
	}
	if owner == nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "Sub-account requires an owner")
	}
	if owner.TierID != entitlement.TierPro {
		return nil, shared.NewDomainError("INVALID_INPUT", "Only Pro accounts may own sub-accounts")
	}
	if owner.IsSubAccount() {
		return nil, fmt.Errorf("%w: owner %s is itself a sub-account", shared.ErrOwnershipCycle, owner.ID)
	}
	ownerID := owner.ID
	return &Account{
		BaseEntity: shared.NewBaseEntity(),
		Email:      email,
		TierID:     nominalTier,
		OwnerID:    &ownerID,
	}, nil
}

// IsSubAccount reports whether the account bills against an owner
func (a *Account) IsSubAccount() bool {
	return a.OwnerID != nil
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return shared.NewDomainError("INVALID_INPUT", "Invalid email address")
	}
	return nil
}
