package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
	"github.com/verimail/backend/internal/domain/usage"
)

// RedisUsageLedger implements usage.Ledger on Redis. Each billing
// account maps to one hash holding consumed and period_start; all
// read-compare-commit logic runs server-side in Lua, so commits are
// atomic per key without client-side locking. Suitable for distributed
// deployments where multiple instances share quota state.
type RedisUsageLedger struct {
	client    *redis.Client
	keyPrefix string
}

// commitScript applies the lazy reset, then increments only when the
// result stays within the limit.
// KEYS[1] = record key
// ARGV[1] = delta, ARGV[2] = limit, ARGV[3] = current period start (unix)
// Returns {consumed, 1} on success, {consumed, 0} when over limit.
var commitScript = redis.NewScript(`
local consumed = tonumber(redis.call('HGET', KEYS[1], 'consumed')) or 0
local stored = tonumber(redis.call('HGET', KEYS[1], 'period_start')) or tonumber(ARGV[3])
local current = tonumber(ARGV[3])
if stored < current then
  consumed = 0
  stored = current
end
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if consumed + delta > limit then
  redis.call('HSET', KEYS[1], 'consumed', consumed, 'period_start', stored)
  return {consumed, 0}
end
consumed = consumed + delta
redis.call('HSET', KEYS[1], 'consumed', consumed, 'period_start', stored)
return {consumed, 1}
`)

// readScript applies the lazy reset and returns the effective record.
// KEYS[1] = record key, ARGV[1] = current period start (unix)
var readScript = redis.NewScript(`
local consumed = tonumber(redis.call('HGET', KEYS[1], 'consumed')) or 0
local stored = tonumber(redis.call('HGET', KEYS[1], 'period_start')) or tonumber(ARGV[1])
local current = tonumber(ARGV[1])
if stored < current then
  consumed = 0
  stored = current
  redis.call('HSET', KEYS[1], 'consumed', 0, 'period_start', stored)
end
return {consumed, stored}
`)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisUsageLedger creates a ledger with its own Redis client and
// validates the connection.
func NewRedisUsageLedger(cfg RedisConfig) (*RedisUsageLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisUsageLedger{
		client:    client,
		keyPrefix: "usage:ledger:",
	}, nil
}

// NewRedisUsageLedgerWithClient creates a ledger over an existing
// client. Useful for testing or when sharing a client across
// components.
func NewRedisUsageLedgerWithClient(client *redis.Client, keyPrefix string) *RedisUsageLedger {
	if keyPrefix == "" {
		keyPrefix = "usage:ledger:"
	}
	return &RedisUsageLedger{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (l *RedisUsageLedger) key(billingID uuid.UUID) string {
	return l.keyPrefix + billingID.String()
}

// CurrentUsage returns the effective record, resetting expired periods
func (l *RedisUsageLedger) CurrentUsage(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) (usage.Record, error) {
	currentStart := usage.PeriodStart(bundle.Reset, time.Now())

	res, err := readScript.Run(ctx, l.client,
		[]string{l.key(billingID)},
		currentStart.Unix(),
	).Int64Slice()
	if err != nil {
		return usage.Record{}, fmt.Errorf("failed to read usage record: %w", err)
	}
	if len(res) != 2 {
		return usage.Record{}, fmt.Errorf("unexpected usage read reply: %v", res)
	}

	return usage.Record{
		BillingAccountID: billingID,
		Consumed:         res[0],
		PeriodStart:      time.Unix(res[1], 0).UTC(),
	}, nil
}

// Commit atomically adds delta, enforcing the bundle limit as a ceiling
func (l *RedisUsageLedger) Commit(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle, delta int64) (int64, error) {
	currentStart := usage.PeriodStart(bundle.Reset, time.Now())

	res, err := commitScript.Run(ctx, l.client,
		[]string{l.key(billingID)},
		delta, bundle.Limit, currentStart.Unix(),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to commit usage: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected usage commit reply: %v", res)
	}
	if res[1] == 0 {
		return res[0], shared.ErrQuotaExceeded
	}
	return res[0], nil
}

// ForceReset zeroes the record and restamps its period
func (l *RedisUsageLedger) ForceReset(ctx context.Context, billingID uuid.UUID, bundle entitlement.Bundle) error {
	currentStart := usage.PeriodStart(bundle.Reset, time.Now())
	err := l.client.HSet(ctx, l.key(billingID),
		"consumed", 0,
		"period_start", currentStart.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to reset usage record: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisUsageLedger) Close() error {
	return l.client.Close()
}

var _ usage.Ledger = (*RedisUsageLedger)(nil)
