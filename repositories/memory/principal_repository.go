// Package memory provides in-process repositories for tests and local
// development without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
)

// PrincipalRepository is a mutex-guarded PrincipalRepository. Accounts are
// copied in and out so callers never share state with the store.
type PrincipalRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*models.Account
}

// NewPrincipalRepository creates an empty repository
func NewPrincipalRepository() *PrincipalRepository {
	return &PrincipalRepository{accounts: make(map[uuid.UUID]*models.Account)}
}

// Create stores the account. Emails are unique across both roles.
func (r *PrincipalRepository) Create(_ context.Context, account *models.Account) error {
	if !account.Role.Valid() {
		return fmt.Errorf("invalid role: %q", account.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicate, account.Email)
		}
	}
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

// GetByID returns the account only if it is stored under role
func (r *PrincipalRepository) GetByID(_ context.Context, id uuid.UUID, role models.Role) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok || account.Role != role {
		return nil, repositories.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

// GetByEmail finds an account by email in either role
func (r *PrincipalRepository) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// EmailExists reports whether any account uses email
func (r *PrincipalRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	return err == nil, nil
}

// Delete removes an account
func (r *PrincipalRepository) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
}

// UpdateEmail changes the stored email of an account
func (r *PrincipalRepository) UpdateEmail(id uuid.UUID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	account.Email = email
	return nil
}

// Len returns the number of stored accounts
func (r *PrincipalRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
