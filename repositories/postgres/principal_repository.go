package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// PrincipalRepository implements repositories.PrincipalRepository over the
// users and admins tables
type PrincipalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, logger *zap.Logger) repositories.PrincipalRepository {
	return &PrincipalRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the account into the table for its role
func (r *PrincipalRepository) Create(ctx context.Context, account *models.Account) error {
	if !account.Role.Valid() {
		return fmt.Errorf("invalid role: %q", account.Role)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, account.TableName())

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", repositories.ErrDuplicate, account.Email)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.logger.Debug("account created",
		zap.String("id", account.ID.String()),
		zap.String("role", string(account.Role)))
	return nil
}

// GetByID retrieves an account by id from the table for role
func (r *PrincipalRepository) GetByID(ctx context.Context, id uuid.UUID, role models.Role) (*models.Account, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %q", role)
	}

	query := fmt.Sprintf(`
		SELECT id, name, email, password_hash, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, models.TableForRole(role))

	account := &models.Account{Role: role}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", repositories.ErrNotFound, role, id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// GetByEmail retrieves an account by email. Admins are checked before users.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT id, name, email, password_hash, created_at, updated_at, 'admin' AS role
		FROM admins
		WHERE email = $1
		UNION ALL
		SELECT id, name, email, password_hash, created_at, updated_at, 'user' AS role
		FROM users
		WHERE email = $1
		LIMIT 1
	`

	account := &models.Account{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, email).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.Role,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repositories.ErrNotFound, email)
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	return account, nil
}

// EmailExists reports whether the email is used in either table
func (r *PrincipalRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM admins WHERE email = $1)
		    OR EXISTS (SELECT 1 FROM users WHERE email = $1)
	`

	var exists bool
	if err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}
