package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record is the usage counter for one billing account. Consumed is the
// number of quota units committed in the current period; PeriodStart
// marks the period the counter belongs to (meaningful only for
// periodic reset policies).
type Record struct {
	BillingAccountID uuid.UUID
	Consumed         int64
	PeriodStart      time.Time
}
