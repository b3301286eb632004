package account

import (
	"context"

	"github.com/google/uuid"
)

// Directory is the account-directory collaborator: a read-only lookup
// of provisioned accounts. Implementations return
// shared.ErrAccountNotFound when the ID is unknown.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
}

// Repository extends Directory with the write operations the
// provisioning surface needs.
type Repository interface {
	Directory
	Save(ctx context.Context, account *Account) error
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindSubAccounts(ctx context.Context, ownerID uuid.UUID) ([]Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
