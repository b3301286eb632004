package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/domain/usage"
)

// BillingResolver resolves any account to its billing account and
// effective tier. *account.Resolver satisfies this.
type BillingResolver interface {
	BillingAccountFor(ctx context.Context, accountID uuid.UUID) (uuid.UUID, entitlement.TierID, error)
}

// Service is the single entry point for entitlement decisions. All
// feature and quota logic funnels through Authorize so per-tier
// branching exists in exactly one place.
type Service struct {
	registry *entitlement.Registry
	resolver BillingResolver
	ledger   usage.Ledger
	logger   *zap.Logger
}

// NewService creates the entitlement service
func NewService(registry *entitlement.Registry, resolver BillingResolver, ledger usage.Ledger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		resolver: resolver,
		ledger:   ledger,
		logger:   logger,
	}
}

// requiredFeature maps gated operation kinds to the capability that
// must be enabled on the effective tier.
var requiredFeature = map[OperationKind]entitlement.Feature{
	OperationBatchValidate: entitlement.FeatureBatchValidation,
	OperationSendEmail:     entitlement.FeatureEmailSending,
}

// Authorize decides whether an account may perform an operation and,
// on allow, commits the requested units against the billing account.
// Admission is all or nothing: a batch larger than the remaining quota
// is denied in full, never partially admitted.
//
// Directory and registry inconsistencies (account not found, ownership
// cycle, unknown tier) propagate as errors. A detected storage race
// surfaces as shared.ErrConcurrencyConflict; the caller retries the
// whole call a bounded number of times and must not present retry
// exhaustion as a quota denial.
func (s *Service) Authorize(ctx context.Context, accountID uuid.UUID, op Operation) (Decision, error) {
	billingID, tierID, err := s.resolver.BillingAccountFor(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}

	bundle, err := s.registry.Lookup(tierID)
	if err != nil {
		s.logger.Error("Account resolved to undefined tier",
			zap.String("account_id", accountID.String()),
			zap.String("tier", string(tierID)))
		return Decision{}, err
	}

	// Feature gates come before any ledger access so a disabled
	// feature is reported as such even at zero remaining quota.
	if feature, gated := requiredFeature[op.Kind]; gated && !bundle.HasFeature(feature) {
		return denied(billingID, tierID, ReasonFeatureDisabled, 0), nil
	}

	record, err := s.ledger.CurrentUsage(ctx, billingID, bundle)
	if err != nil {
		return Decision{}, err
	}

	if record.Consumed+op.Count > bundle.Limit {
		remaining := bundle.Limit - record.Consumed
		if remaining < 0 {
			remaining = 0
		}
		return denied(billingID, tierID, ReasonQuotaExceeded, remaining), nil
	}

	newConsumed, err := s.ledger.Commit(ctx, billingID, bundle, op.Count)
	if err != nil {
		if errors.Is(err, shared.ErrQuotaExceeded) {
			// Lost the race to a concurrent commit; nothing was
			// written. Re-read for an accurate remaining figure.
			current, readErr := s.ledger.CurrentUsage(ctx, billingID, bundle)
			remaining := int64(0)
			if readErr == nil && bundle.Limit > current.Consumed {
				remaining = bundle.Limit - current.Consumed
			}
			return denied(billingID, tierID, ReasonQuotaExceeded, remaining), nil
		}
		return Decision{}, err
	}

	return allowed(billingID, tierID, bundle.Limit-newConsumed), nil
}

// RemainingQuota resolves the billing account and reads its effective
// usage without committing anything. The lazy periodic reset still
// applies on the read path.
func (s *Service) RemainingQuota(ctx context.Context, accountID uuid.UUID) (QuotaStatus, error) {
	billingID, tierID, err := s.resolver.BillingAccountFor(ctx, accountID)
	if err != nil {
		return QuotaStatus{}, err
	}

	bundle, err := s.registry.Lookup(tierID)
	if err != nil {
		return QuotaStatus{}, err
	}

	record, err := s.ledger.CurrentUsage(ctx, billingID, bundle)
	if err != nil {
		return QuotaStatus{}, err
	}

	remaining := bundle.Limit - record.Consumed
	if remaining < 0 {
		remaining = 0
	}

	var resetsAt *time.Time
	if bundle.Reset.IsPeriodic() {
		resetsAt = usage.NextReset(bundle.Reset, record.PeriodStart)
	}

	return QuotaStatus{
		AccountID:        accountID,
		BillingAccountID: billingID,
		Tier:             tierID,
		Consumed:         record.Consumed,
		Limit:            bundle.Limit,
		Remaining:        remaining,
		ResetsAt:         resetsAt,
	}, nil
}

// ForceReset zeroes the billing account's usage record. Administrative
// remediation; resolves sub-accounts to their owner first.
func (s *Service) ForceReset(ctx context.Context, accountID uuid.UUID) error {
	billingID, tierID, err := s.resolver.BillingAccountFor(ctx, accountID)
	if err != nil {
		return err
	}
	bundle, err := s.registry.Lookup(tierID)
	if err != nil {
		return err
	}
	if err := s.ledger.ForceReset(ctx, billingID, bundle); err != nil {
		return err
	}
	s.logger.Warn("Usage record force-reset",
		zap.String("billing_account_id", billingID.String()),
		zap.String("tier", string(tierID)))
	return nil
}

// TierCatalog returns every defined tier bundle for display. UIs read
// limits from here instead of holding their own copies.
func (s *Service) TierCatalog() []TierBundleDTO {
	tiers := s.registry.Tiers()
	out := make([]TierBundleDTO, 0, len(tiers))
	for _, id := range tiers {
		bundle, err := s.registry.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, toTierBundleDTO(bundle))
	}
	return out
}
