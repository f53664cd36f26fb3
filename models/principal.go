package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role a principal holds in the portal
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid returns true if the role is one the portal knows about
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// ParseRole converts a raw claim or request value into a Role
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Principal is the authenticated identity derived from a verified token or a
// store lookup. It is never persisted by the auth subsystem.
type Principal struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

// Account is the stored record behind a principal. Users and admins live in
// separate tables, so an account is always addressed by (ID, Role).
type Account struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         Role      `json:"role" db:"-"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NewAccount creates a new Account instance
func NewAccount(name, email string, role Role, passwordHash string) *Account {
	now := time.Now()
	return &Account{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TableName returns the table holding accounts of the given role
func (a Account) TableName() string {
	return TableForRole(a.Role)
}

// TableForRole maps a role to its backing table
func TableForRole(role Role) string {
	if role == RoleAdmin {
		return "admins"
	}
	return "users"
}

// Principal returns the identity view of the account
func (a *Account) Principal() *Principal {
	return &Principal{
		ID:    a.ID,
		Email: a.Email,
		Role:  a.Role,
	}
}
