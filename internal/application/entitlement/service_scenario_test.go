package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/infrastructure/cache"
)

// mapResolver routes accounts to configured billing accounts without a
// directory, for end-to-end scenarios over a real ledger.
type mapResolver struct {
	routes map[uuid.UUID]struct {
		billingID uuid.UUID
		tier      entitlement.TierID
	}
}

func newMapResolver() *mapResolver {
	return &mapResolver{routes: make(map[uuid.UUID]struct {
		billingID uuid.UUID
		tier      entitlement.TierID
	})}
}

func (r *mapResolver) add(accountID, billingID uuid.UUID, tier entitlement.TierID) {
	r.routes[accountID] = struct {
		billingID uuid.UUID
		tier      entitlement.TierID
	}{billingID, tier}
}

func (r *mapResolver) BillingAccountFor(_ context.Context, accountID uuid.UUID) (uuid.UUID, entitlement.TierID, error) {
	route := r.routes[accountID]
	return route.billingID, route.tier, nil
}

func newScenarioService(t *testing.T, resolver BillingResolver, opts ...cache.InMemoryLedgerOption) (*Service, *cache.InMemoryUsageLedger) {
	t.Helper()
	registry, err := entitlement.NewRegistry()
	require.NoError(t, err)
	ledger := cache.NewInMemoryUsageLedger(opts...)
	return NewService(registry, resolver, ledger, zap.NewNop()), ledger
}

func TestAuthorizeScenario_FreeAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	resolver := newMapResolver()
	resolver.add(accountID, accountID, entitlement.TierFree)
	service, _ := newScenarioService(t, resolver)

	// Consume 9 of the 10 daily units
	decision, err := service.Authorize(ctx, accountID, Validate(9))
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// The tenth unit is allowed with zero remaining
	decision, err = service.Authorize(ctx, accountID, Validate(1))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Remaining)

	// The next call is over quota
	decision, err = service.Authorize(ctx, accountID, Validate(1))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, decision.Reason)
	assert.Equal(t, int64(0), decision.Remaining)

	// Batch mode is denied for the feature, independent of quota
	decision, err = service.Authorize(ctx, accountID, BatchValidate(1))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonFeatureDisabled, decision.Reason)
}

func TestAuthorizeScenario_SubAccountAttribution(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	subID := uuid.New()
	resolver := newMapResolver()
	resolver.add(ownerID, ownerID, entitlement.TierPro)
	resolver.add(subID, ownerID, entitlement.TierPro)
	service, _ := newScenarioService(t, resolver)

	// Sub-account usage lands on the owner's ledger
	decision, err := service.Authorize(ctx, subID, Validate(5))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	assert.Equal(t, ownerID, decision.BillingAccountID)

	// The owner sees combined usage against its own limit
	decision, err = service.Authorize(ctx, ownerID, Validate(5))
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	assert.Equal(t, int64(10_000_000-10), decision.Remaining)

	status, err := service.RemainingQuota(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.Consumed)
	assert.Equal(t, ownerID, status.BillingAccountID)

	// Sub-accounts inherit the owner's features
	decision, err = service.Authorize(ctx, subID, SendEmail())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAuthorizeScenario_ConcurrentCallsNeverOvershoot(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	resolver := newMapResolver()
	resolver.add(accountID, accountID, entitlement.TierFree)
	service, _ := newScenarioService(t, resolver)

	const calls = 1000
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, denied, failed := 0, 0, 0

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := service.Authorize(ctx, accountID, Validate(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
			case decision.Allowed:
				allowed++
			default:
				denied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, failed)
	assert.Equal(t, 10, allowed)
	assert.Equal(t, calls-10, denied)

	status, err := service.RemainingQuota(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), status.Consumed)
}

func TestAuthorizeScenario_LazyDailyReset(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	resolver := newMapResolver()
	resolver.add(accountID, accountID, entitlement.TierFree)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	service, _ := newScenarioService(t, resolver, cache.WithClock(func() time.Time { return now }))

	// Exhaust the daily quota
	decision, err := service.Authorize(ctx, accountID, Validate(10))
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = service.Authorize(ctx, accountID, Validate(1))
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// The next day the quota is fresh
	now = now.AddDate(0, 0, 1)
	status, err := service.RemainingQuota(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.Consumed)

	decision, err = service.Authorize(ctx, accountID, Validate(1))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Still the same day: no second reset
	now = now.Add(3 * time.Hour)
	status, err = service.RemainingQuota(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Consumed)
}
