package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/jobportal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns a context carrying the transaction. Repositories called
	// with it run their queries inside the transaction.
	Context() context.Context
}

// PrincipalRepository reads and writes portal accounts. Users and admins are
// stored separately, so lookups by id need the role to pick the table.
type PrincipalRepository interface {
	// Create inserts the account into the table for its role
	Create(ctx context.Context, account *models.Account) error

	// GetByID retrieves an account by id from the table for role
	GetByID(ctx context.Context, id uuid.UUID, role models.Role) (*models.Account, error)

	// GetByEmail retrieves an account by email from either table
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// EmailExists reports whether any account already uses the email
	EmailExists(ctx context.Context, email string) (bool, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Principals PrincipalRepository
}
