package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/jobportal/models"
)

var (
	// ErrTokenMalformed is returned when a token's signature or structure is invalid
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned when a correctly signed token is past its TTL
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when an access token is presented where a
	// refresh token is required, or vice versa
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenType discriminates access tokens from refresh tokens
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "jobportal"
)

// Claims are the JWT claims carried by both token kinds
type Claims struct {
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	TokenType TokenType   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the verified content of a refresh token
type RefreshClaims struct {
	Principal *models.Principal
	TokenID   string
	ExpiresAt time.Time
}

// Pair is the result of issuing an access token and a refresh token together
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshTokenID   string
	RefreshExpiresAt time.Time
}

// Options configures a Service
type Options struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string

	// Now overrides the clock; defaults to time.Now
	Now func() time.Time
}

// Service mints and verifies tokens. It holds no mutable state.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewService creates a token service. Both secrets are required and must differ.
func NewService(opts Options) (*Service, error) {
	if len(opts.AccessSecret) == 0 || len(opts.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(opts.AccessSecret) == string(opts.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		accessSecret:  opts.AccessSecret,
		refreshSecret: opts.RefreshSecret,
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		issuer:        opts.Issuer,
		now:           opts.Now,
	}, nil
}

// AccessTTL returns the lifetime of access tokens
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the lifetime of refresh tokens
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// MintAccess mints a short-lived access token for the principal
func (s *Service) MintAccess(p *models.Principal) (string, error) {
	token, _, err := s.mint(p, TypeAccess)
	return token, err
}

// MintRefresh mints a long-lived refresh token for the principal
func (s *Service) MintRefresh(p *models.Principal) (string, error) {
	token, _, err := s.mint(p, TypeRefresh)
	return token, err
}

// IssuePair mints an access token and a refresh token for the principal
func (s *Service) IssuePair(p *models.Principal) (*Pair, error) {
	access, accessClaims, err := s.mint(p, TypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.mint(p, TypeRefresh)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshTokenID:   refreshClaims.ID,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// VerifyAccess verifies an access token and returns the principal it encodes
func (s *Service) VerifyAccess(token string) (*models.Principal, error) {
	claims, err := s.verify(token, TypeAccess)
	if err != nil {
		return nil, err
	}
	return principalFromClaims(claims)
}

// VerifyRefresh verifies a refresh token and returns its principal and token id
func (s *Service) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims, err := s.verify(token, TypeRefresh)
	if err != nil {
		return nil, err
	}
	p, err := principalFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", ErrTokenMalformed)
	}
	return &RefreshClaims{
		Principal: p,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) mint(p *models.Principal, typ TokenType) (string, *Claims, error) {
	if p == nil || p.ID == uuid.Nil {
		return "", nil, errors.New("principal id is required")
	}
	if !p.Role.Valid() {
		return "", nil, fmt.Errorf("invalid role: %q", p.Role)
	}

	ttl := s.accessTTL
	if typ == TypeRefresh {
		ttl = s.refreshTTL
	}

	now := s.now()
	claims := &Claims{
		Email:     p.Email,
		Role:      p.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretFor(typ))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// verify checks the signature with the key belonging to the token's declared
// type, then checks the declared type against the expected one. A genuine token
// of the other kind therefore fails with ErrWrongTokenType, while a forged or
// corrupted token fails with ErrTokenMalformed.
func (s *Service) verify(tokenString string, want TokenType) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		switch c.TokenType {
		case TypeAccess, TypeRefresh:
			return s.secretFor(c.TokenType), nil
		default:
			return nil, fmt.Errorf("unknown token type %q", c.TokenType)
		}
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenType, want, claims.TokenType)
	}
	return claims, nil
}

func (s *Service) secretFor(typ TokenType) []byte {
	if typ == TypeRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}

func principalFromClaims(c *Claims) (*models.Principal, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subject: %v", ErrTokenMalformed, err)
	}
	if !c.Role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", ErrTokenMalformed, c.Role)
	}
	return &models.Principal{
		ID:    id,
		Email: c.Email,
		Role:  c.Role,
	}, nil
}
