package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/domain/usage"
)

// ledgerEntry holds one billing account's counter. Each entry carries
// its own mutex so commits against different accounts never contend.
type ledgerEntry struct {
	mu          sync.Mutex
	consumed    int64
	periodStart time.Time
}

// InMemoryUsageLedger implements usage.Ledger with an in-process map.
// Suitable for single-instance deployments and testing. The per-entry
// mutex serializes read-compare-commit per billing account.
type InMemoryUsageLedger struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*ledgerEntry
	now     func() time.Time
}

// InMemoryLedgerOption configures the in-memory ledger
type InMemoryLedgerOption func(*InMemoryUsageLedger)

// WithClock overrides the ledger's time source
func WithClock(now func() time.Time) InMemoryLedgerOption {
	return func(l *InMemoryUsageLedger) {
		l.now = now
	}
}

// NewInMemoryUsageLedger creates an empty in-memory ledger
func NewInMemoryUsageLedger(opts ...InMemoryLedgerOption) *InMemoryUsageLedger {
	l := &InMemoryUsageLedger{
		entries: make(map[uuid.UUID]*ledgerEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *InMemoryUsageLedger) entry(billingID uuid.UUID, bundle entitlement.Bundle) *ledgerEntry {
	l.mu.RLock()
	e, ok := l.entries[billingID]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[billingID]; ok {
		return e
	}
	e = &ledgerEntry{periodStart: usage.PeriodStart(bundle.Reset, l.now())}
	l.entries[billingID] = e
	return e
}

// resetIfExpired applies the lazy periodic reset. Caller holds e.mu.
func (l *InMemoryUsageLedger) resetIfExpired(e *ledgerEntry, bundle entitlement.Bundle) {
	now := l.now()
	if usage.PeriodExpired(bundle.Reset, e.periodStart, now) {
		e.consumed = 0
		e.periodStart = usage.PeriodStart(bundle.Reset, now)
	}
}

// CurrentUsage returns the effective record, resetting expired periods
func (l *InMemoryUsageLedger) CurrentUsage(_ context.Context, billingID uuid.UUID, bundle entitlement.Bundle) (usage.Record, error) {
	e := l.entry(billingID, bundle)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resetIfExpired(e, bundle)
	return usage.Record{
		BillingAccountID: billingID,
		Consumed:         e.consumed,
		PeriodStart:      e.periodStart,
	}, nil
}

// Commit atomically adds delta, enforcing the bundle limit as a ceiling
func (l *InMemoryUsageLedger) Commit(_ context.Context, billingID uuid.UUID, bundle entitlement.Bundle, delta int64) (int64, error) {
	e := l.entry(billingID, bundle)
	e.mu.Lock()
	defer e.mu.Unlock()

	l.resetIfExpired(e, bundle)
	if e.consumed+delta > bundle.Limit {
		return e.consumed, shared.ErrQuotaExceeded
	}
	e.consumed += delta
	return e.consumed, nil
}

// ForceReset zeroes the record and restamps its period
func (l *InMemoryUsageLedger) ForceReset(_ context.Context, billingID uuid.UUID, bundle entitlement.Bundle) error {
	e := l.entry(billingID, bundle)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consumed = 0
	e.periodStart = usage.PeriodStart(bundle.Reset, l.now())
	return nil
}

var _ usage.Ledger = (*InMemoryUsageLedger)(nil)
