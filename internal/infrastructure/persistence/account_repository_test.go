package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/verimail/backend/internal/domain/account"
	"github.com/verimail/backend/internal/domain/entitlement"
	"github.com/verimail/backend/internal/domain/shared"
)

func setupAccountTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&AccountModel{})
	require.NoError(t, err)

	return db
}

func TestGormAccountRepository(t *testing.T) {
	db := setupAccountTestDB(t)
	repo := NewGormAccountRepository(db)
	ctx := context.Background()

	t.Run("saves and finds a standalone account", func(t *testing.T) {
		acct, err := account.NewAccount("solo@example.com", entitlement.TierStarter)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, acct))

		found, err := repo.FindByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, found.ID)
		assert.Equal(t, entitlement.TierStarter, found.TierID)
		assert.Nil(t, found.OwnerID)
	})

	t.Run("saves and finds a sub-account with its owner reference", func(t *testing.T) {
		owner, err := account.NewAccount("owner@example.com", entitlement.TierPro)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, owner))

		sub, err := account.NewSubAccount("member@example.com", entitlement.TierFree, owner)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, sub))

		found, err := repo.FindByID(ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, found.OwnerID)
		assert.Equal(t, owner.ID, *found.OwnerID)
		assert.True(t, found.IsSubAccount())
	})

	t.Run("finds by email", func(t *testing.T) {
		acct, err := account.NewAccount("byemail@example.com", entitlement.TierFree)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, acct))

		found, err := repo.FindByEmail(ctx, "byemail@example.com")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, found.ID)
	})

	t.Run("lists sub-accounts of an owner", func(t *testing.T) {
		owner, err := account.NewAccount("team@example.com", entitlement.TierPro)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, owner))

		for _, email := range []string{"a@example.com", "b@example.com"} {
			sub, err := account.NewSubAccount(email, entitlement.TierFree, owner)
			require.NoError(t, err)
			require.NoError(t, repo.Save(ctx, sub))
		}

		subs, err := repo.FindSubAccounts(ctx, owner.ID)
		require.NoError(t, err)
		assert.Len(t, subs, 2)
	})

	t.Run("unknown id returns account not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrAccountNotFound))
	})

	t.Run("delete removes the account", func(t *testing.T) {
		acct, err := account.NewAccount("gone@example.com", entitlement.TierFree)
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, acct))

		require.NoError(t, repo.Delete(ctx, acct.ID))

		_, err = repo.FindByID(ctx, acct.ID)
		assert.True(t, errors.Is(err, shared.ErrAccountNotFound))
	})

	t.Run("delete of unknown id reports not found", func(t *testing.T) {
		err := repo.Delete(ctx, uuid.New())
		assert.True(t, errors.Is(err, shared.ErrAccountNotFound))
	})
}
