package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/utils"
	"go.uber.org/zap"
)

// Authenticator verifies an access token and returns the principal it names
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

// AuthMiddleware provides authentication and authorization middleware
type AuthMiddleware struct {
	authenticator Authenticator
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(authenticator Authenticator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		logger:        logger,
	}
}

// Client facing messages. Why a token was rejected is only logged.
const (
	msgMissingToken = "Missing or invalid authorization"
	msgInvalidToken = "Invalid or expired token"
	msgForbidden    = "Insufficient permissions"
)

// RequireAuth requires a valid access token in the Authorization header.
// Cookies are never consulted.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token, ok := extractBearerToken(r)
		if !ok {
			m.logger.Debug("missing or malformed authorization header",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, msgMissingToken)
			return
		}

		principal, err := m.authenticator.Authenticate(ctx, token)
		if err != nil {
			m.logger.Info("access token rejected",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, msgInvalidToken)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("principal_id", principal.ID.String()),
			zap.String("role", string(principal.Role)))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// RequireRole allows the request only if the principal holds one of roles.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			principal := PrincipalFromContext(ctx)
			if principal == nil {
				m.logger.Error("principal not found in context, RequireRole used without RequireAuth",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if _, ok := allowed[principal.Role]; !ok {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("principal_id", principal.ID.String()),
					zap.String("role", string(principal.Role)),
					zap.Any("required_roles", roles))
				_ = utils.WriteForbidden(w, msgForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from an "Authorization: Bearer <token>" header
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
