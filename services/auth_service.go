package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/repositories"
	"github.com/upb/jobportal/tokens"
	"github.com/upb/jobportal/utils"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthMetrics receives authentication lifecycle events.
// *observability.Metrics satisfies it.
type AuthMetrics interface {
	TokenIssued(kind string)
	TokenRejected(reason string)
	LoginAttempt(outcome string)
	RefreshAttempt(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) TokenIssued(string)    {}
func (noopMetrics) TokenRejected(string)  {}
func (noopMetrics) LoginAttempt(string)   {}
func (noopMetrics) RefreshAttempt(string) {}

// LoginRequest is the payload of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// RegisterRequest is the payload of POST /auth/register
type RegisterRequest struct {
	Name     string      `json:"name" validate:"required,min=2,max=100"`
	Email    string      `json:"email" validate:"required,email,max=255"`
	Password string      `json:"password" validate:"required,min=8,max=72"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=user admin"`
}

// AuthResult is returned by every operation that issues a fresh token pair
type AuthResult struct {
	Principal *models.Principal
	Tokens    *tokens.Pair
}

// AuthServiceConfig holds the collaborators of an AuthService
type AuthServiceConfig struct {
	Tokens      *tokens.Service
	Registry    tokens.RefreshRegistry
	Principals  repositories.PrincipalRepository
	TxManager   repositories.TransactionManager
	Credentials CredentialVerifier
	BcryptCost  int
	Metrics     AuthMetrics
	Logger      *zap.Logger
}

// AuthService implements login, registration, refresh rotation, logout and
// access token verification
type AuthService struct {
	tokens      *tokens.Service
	registry    tokens.RefreshRegistry
	principals  repositories.PrincipalRepository
	txMgr       repositories.TransactionManager
	credentials CredentialVerifier
	bcryptCost  int
	metrics     AuthMetrics
	logger      *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(cfg AuthServiceConfig) *AuthService {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Credentials == nil {
		cfg.Credentials = NewBcryptCredentialVerifier(cfg.Principals)
	}
	return &AuthService{
		tokens:      cfg.Tokens,
		registry:    cfg.Registry,
		principals:  cfg.Principals,
		txMgr:       cfg.TxManager,
		credentials: cfg.Credentials,
		bcryptCost:  cfg.BcryptCost,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Login verifies credentials and issues a token pair
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	principal, err := s.credentials.VerifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		s.metrics.LoginAttempt("failure")
		return nil, err
	}

	result, err := s.issue(ctx, principal)
	if err != nil {
		return nil, err
	}

	s.metrics.LoginAttempt("success")
	s.logger.Info("principal logged in",
		zap.String("principal_id", principal.ID.String()),
		zap.String("role", string(principal.Role)))
	return result, nil
}

// Register creates an account and issues a token pair. The duplicate check
// and the insert run in one transaction.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	req.Email = NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	account := models.NewAccount(req.Name, req.Email, req.Role, hash)

	create := func(ctx context.Context, _ repositories.Transaction) error {
		exists, err := s.principals.EmailExists(ctx, account.Email)
		if err != nil {
			return ErrDatabaseError.Wrap(err)
		}
		if exists {
			return ErrDuplicateEmail
		}
		if err := s.principals.Create(ctx, account); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return ErrDuplicateEmail
			}
			return ErrDatabaseError.Wrap(err)
		}
		return nil
	}

	if s.txMgr != nil {
		err = WithTransaction(ctx, s.txMgr, create)
		var domainErr *DomainError
		if err != nil && !errors.As(err, &domainErr) {
			err = WrapInternal("registration transaction failed", err)
		}
	} else {
		err = create(ctx, nil)
	}
	if err != nil {
		s.metrics.LoginAttempt("register_failure")
		return nil, err
	}

	s.metrics.LoginAttempt("registered")
	s.logger.Info("account registered",
		zap.String("principal_id", account.ID.String()),
		zap.String("role", string(account.Role)))
	return s.issue(ctx, account.Principal())
}

// Refresh redeems a refresh token for a new pair. The presented token is
// consumed, so replaying it fails. The principal is re-read from the store so
// deleted accounts cannot refresh and the new tokens carry current data.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		s.metrics.RefreshAttempt("missing")
		return nil, ErrUnauthenticated
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.RefreshAttempt("invalid")
		return nil, s.rejectToken(err)
	}

	// Everything that can fail transiently runs before the old token is
	// consumed, so a store error leaves it redeemable.
	account, err := s.principals.GetByID(ctx, claims.Principal.ID, claims.Principal.Role)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.metrics.RefreshAttempt("principal_gone")
			return nil, ErrRefreshRejected.Wrap(ErrPrincipalNotFound)
		}
		s.metrics.RefreshAttempt("error")
		return nil, ErrDatabaseError.Wrap(err)
	}

	principal := account.Principal()
	pair, err := s.tokens.IssuePair(principal)
	if err != nil {
		s.metrics.RefreshAttempt("error")
		return nil, WrapInternal("failed to issue tokens", err)
	}

	ok, err := s.registry.Consume(ctx, claims.TokenID)
	if err != nil {
		s.metrics.RefreshAttempt("error")
		return nil, WrapInternal("failed to consume refresh token", err)
	}
	if !ok {
		s.metrics.RefreshAttempt("reused")
		s.logger.Warn("refresh token replayed or revoked",
			zap.String("principal_id", claims.Principal.ID.String()),
			zap.String("token_id", claims.TokenID))
		return nil, ErrRefreshRejected
	}

	result, err := s.register(ctx, principal, pair)
	if err != nil {
		// The old token is gone; put it back so the client can retry.
		if rerr := s.registry.Register(ctx, claims.TokenID, claims.Principal.ID, s.tokens.RefreshTTL()); rerr != nil {
			s.logger.Error("failed to restore consumed refresh token",
				zap.String("token_id", claims.TokenID), zap.Error(rerr))
		}
		s.metrics.RefreshAttempt("error")
		return nil, err
	}
	s.metrics.RefreshAttempt("success")
	return result, nil
}

// Logout revokes the presented refresh token. Missing or invalid tokens are
// ignored so logout always succeeds from the client's point of view.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.logger.Debug("logout with unusable refresh token", zap.Error(err))
		return nil
	}
	if err := s.registry.Revoke(ctx, claims.TokenID); err != nil {
		return WrapInternal("failed to revoke refresh token", err)
	}
	s.logger.Info("principal logged out", zap.String("principal_id", claims.Principal.ID.String()))
	return nil
}

// Authenticate verifies an access token and returns its principal
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (*models.Principal, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}
	principal, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, s.rejectToken(err)
	}
	return principal, nil
}

// Profile loads the stored account behind an authenticated principal
func (s *AuthService) Profile(ctx context.Context, principal *models.Principal) (*models.Account, error) {
	if principal == nil {
		return nil, ErrUnauthenticated
	}
	account, err := s.principals.GetByID(ctx, principal.ID, principal.Role)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, ErrDatabaseError.Wrap(err)
	}
	return account, nil
}

// AccessTTL returns the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.tokens.AccessTTL()
}

// RefreshTTL returns the lifetime of issued refresh tokens
func (s *AuthService) RefreshTTL() time.Duration {
	return s.tokens.RefreshTTL()
}

func (s *AuthService) issue(ctx context.Context, principal *models.Principal) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(principal)
	if err != nil {
		return nil, WrapInternal("failed to issue tokens", err)
	}
	return s.register(ctx, principal, pair)
}

// register records the pair's refresh id for as long as the token lives
func (s *AuthService) register(ctx context.Context, principal *models.Principal, pair *tokens.Pair) (*AuthResult, error) {
	if err := s.registry.Register(ctx, pair.RefreshTokenID, principal.ID, s.tokens.RefreshTTL()); err != nil {
		return nil, WrapInternal("failed to register refresh token", err)
	}
	s.metrics.TokenIssued(string(tokens.TypeAccess))
	s.metrics.TokenIssued(string(tokens.TypeRefresh))
	return &AuthResult{Principal: principal, Tokens: pair}, nil
}

// rejectToken records why a token failed and hides the reason from the caller
func (s *AuthService) rejectToken(err error) error {
	reason := "malformed"
	switch {
	case errors.Is(err, tokens.ErrTokenExpired):
		reason = "expired"
	case errors.Is(err, tokens.ErrWrongTokenType):
		reason = "wrong_type"
	}
	s.metrics.TokenRejected(reason)
	return ErrInvalidToken.Wrap(err)
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRequest(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		details := make(map[string]interface{})
		for field, msg := range utils.GetValidationFields(err) {
			details[field] = msg
		}
		return &DomainError{
			Type:    ErrorTypeValidation,
			Message: ErrInvalidInput.Message,
			Err:     err,
			Details: details,
		}
	}
	return nil
}
