package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verimail/backend/internal/domain/account"
	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
)

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email     string     `gorm:"size:255;uniqueIndex;not null"`
	Tier      string     `gorm:"size:32;not null"`
	OwnerID   *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the table name
func (AccountModel) TableName() string {
	return "accounts"
}

// ToEntity converts the model to a domain entity
func (m *AccountModel) ToEntity() *account.Account {
	return &account.Account{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Email:   m.Email,
		TierID:  entitlement.TierID(m.Tier),
		OwnerID: m.OwnerID,
	}
}

// FromEntity converts a domain entity to the model
func (m *AccountModel) FromEntity(a *account.Account) {
	m.ID = a.ID
	m.Email = a.Email
	m.Tier = string(a.TierID)
	m.OwnerID = a.OwnerID
	m.CreatedAt = a.CreatedAt
	m.UpdatedAt = a.UpdatedAt
}

// GormAccountRepository implements account.Repository using GORM
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new account repository
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByID retrieves an account by its ID
func (r *GormAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, id)
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return model.ToEntity(), nil
}

// FindByEmail retrieves an account by email
func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).First(&model, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, email)
		}
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return model.ToEntity(), nil
}

// FindSubAccounts lists the accounts owned by a billing account
func (r *GormAccountRepository) FindSubAccounts(ctx context.Context, ownerID uuid.UUID) ([]account.Account, error) {
	var models []AccountModel
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-accounts: %w", err)
	}
	accounts := make([]account.Account, 0, len(models))
	for i := range models {
		accounts = append(accounts, *models[i].ToEntity())
	}
	return accounts, nil
}

// Save creates or updates an account
func (r *GormAccountRepository) Save(ctx context.Context, a *account.Account) error {
	var model AccountModel
	model.FromEntity(a)
	model.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Delete removes an account
func (r *GormAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&AccountModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, id)
	}
	return nil
}

// Ensure GormAccountRepository implements account.Repository
var _ account.Repository = (*GormAccountRepository)(nil)
