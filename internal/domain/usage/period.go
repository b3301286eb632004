package usage

import (
	"time"

	"github.com/verimail/backend/internal/domain/entitlement"
)

// lifetimeEpoch is the fixed period start for counters that never reset
var lifetimeEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// PeriodStart returns the start of the period containing the given
// instant for a reset policy. All period math is done in UTC so a
// record written on one node resets identically on another.
func PeriodStart(reset entitlement.ResetPeriod, at time.Time) time.Time {
	at = at.UTC()
	switch reset {
	case entitlement.ResetDaily:
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	case entitlement.ResetMonthly:
		return time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return lifetimeEpoch
	}
}

// NextReset returns the instant the period containing periodStart ends,
// or nil for lifetime counters which never reset.
func NextReset(reset entitlement.ResetPeriod, periodStart time.Time) *time.Time {
	var next time.Time
	switch reset {
	case entitlement.ResetDaily:
		next = periodStart.AddDate(0, 0, 1)
	case entitlement.ResetMonthly:
		next = periodStart.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &next
}

// PeriodExpired reports whether a record stamped with periodStart
// belongs to an earlier period than the one containing now.
func PeriodExpired(reset entitlement.ResetPeriod, periodStart, now time.Time) bool {
	if !reset.IsPeriodic() {
		return false
	}
	return periodStart.Before(PeriodStart(reset, now))
}
