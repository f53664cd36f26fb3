package services

import (
	"context"
	"errors"

	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier checks an email and password pair
type CredentialVerifier interface {
	// VerifyCredentials returns the principal on success and
	// ErrInvalidCredentials when the email is unknown or the password is wrong
	VerifyCredentials(ctx context.Context, email, password string) (*models.Principal, error)
}

// BcryptCredentialVerifier verifies passwords against bcrypt hashes in the
// principal store
type BcryptCredentialVerifier struct {
	principals repositories.PrincipalRepository

	// compared against when the email is unknown so both failure paths cost
	// one bcrypt comparison
	dummyHash []byte
}

// NewBcryptCredentialVerifier creates a verifier over the principal store
func NewBcryptCredentialVerifier(principals repositories.PrincipalRepository) *BcryptCredentialVerifier {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return &BcryptCredentialVerifier{
		principals: principals,
		dummyHash:  dummy,
	}
}

// VerifyCredentials implements CredentialVerifier
func (v *BcryptCredentialVerifier) VerifyCredentials(ctx context.Context, email, password string) (*models.Principal, error) {
	account, err := v.principals.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, ErrDatabaseError.Wrap(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return account.Principal(), nil
}

// HashPassword hashes a password with bcrypt at the given cost
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", WrapInternal("failed to hash password", err)
	}
	return string(hash), nil
}
