package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/verimail/backend/internal/domain/usage"
	"github.com/verimail/backend/internal/infrastructure/config"
)

// UsageLedgerFactory creates redis or in-memory usage ledgers based on
// configuration. The database-backed ledger is wired directly in the
// server bootstrap since it shares the application's GORM handle.
type UsageLedgerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// UsageLedgerFactoryOption is a functional option for configuring the factory
type UsageLedgerFactoryOption func(*UsageLedgerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) UsageLedgerFactoryOption {
	return func(f *UsageLedgerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory
// ledger when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) UsageLedgerFactoryOption {
	return func(f *UsageLedgerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewUsageLedgerFactory creates a new factory
func NewUsageLedgerFactory(cfg config.RedisConfig, opts ...UsageLedgerFactoryOption) *UsageLedgerFactory {
	f := &UsageLedgerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisLedger creates a Redis-backed usage ledger, falling back
// to the in-memory ledger when allowed and Redis is unreachable.
func (f *UsageLedgerFactory) CreateRedisLedger() (usage.Ledger, error) {
	ledger, err := NewRedisUsageLedger(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("failed to create redis usage ledger: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory usage ledger",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port),
			zap.Error(err))
		return NewInMemoryUsageLedger(), nil
	}

	f.logger.Info("Using Redis usage ledger",
		zap.String("host", f.redisConfig.Host),
		zap.Int("port", f.redisConfig.Port))
	return ledger, nil
}

// CreateInMemoryLedger creates an in-memory usage ledger
func (f *UsageLedgerFactory) CreateInMemoryLedger() usage.Ledger {
	f.logger.Info("Using in-memory usage ledger")
	return NewInMemoryUsageLedger()
}
