package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/upb/jobportal/handlers"
	"github.com/upb/jobportal/middleware"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/services"
	"github.com/upb/jobportal/utils"
	"go.uber.org/zap"
)

// RefreshCookieName is the cookie carrying the refresh token
const RefreshCookieName = "refresh_token"

// Service is the subset of services.AuthService the handler needs
type Service interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResult, error)
	Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// CookieOptions controls how the refresh cookie is written
type CookieOptions struct {
	Domain string
	Secure bool
	MaxAge time.Duration
}

// TokenResponse is returned by login, register and refresh
type TokenResponse struct {
	AccessToken string            `json:"accessToken"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	Principal   *models.Principal `json:"principal"`
}

// Handler serves the /auth endpoints
type Handler struct {
	service Service
	cookie  CookieOptions
	logger  *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(service Service, cookie CookieOptions, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		cookie:  cookie,
		logger:  logger,
	}
}

// HandleLogin handles POST /auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		handlers.HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken)
	if err := utils.WriteOK(w, tokenResponse(result)); err != nil {
		h.logger.Error("failed to write login response", zap.Error(err))
	}
}

// HandleRegister handles POST /auth/register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		handlers.HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Register(r.Context(), req)
	if err != nil {
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken)
	if err := utils.WriteCreated(w, tokenResponse(result)); err != nil {
		h.logger.Error("failed to write register response", zap.Error(err))
	}
}

// HandleRefresh handles POST /auth/refresh. The refresh cookie is rotated on
// success and cleared on failure.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Refresh(r.Context(), refreshCookie(r))
	if err != nil {
		if refreshCookieDead(err) {
			h.clearRefreshCookie(w)
		}
		handlers.HandleServiceError(w, err, h.logger)
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken)
	if err := utils.WriteOK(w, tokenResponse(result)); err != nil {
		h.logger.Error("failed to write refresh response", zap.Error(err))
	}
}

// HandleLogout handles POST /auth/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	err := h.service.Logout(r.Context(), refreshCookie(r))
	h.clearRefreshCookie(w)
	if err != nil {
		handlers.HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleVerify handles GET /auth/verify. It must sit behind RequireAuth.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		handlers.HandleServiceError(w, services.ErrUnauthenticated, h.logger)
		return
	}
	if err := utils.WriteOK(w, principal); err != nil {
		h.logger.Error("failed to write verify response", zap.Error(err))
	}
}

// refreshCookieDead reports whether the presented cookie can never work again.
// A replayed token is left alone: when two tabs refresh with the same cookie,
// the loser's response arrives after the winner's rotated cookie and must not
// overwrite it.
func refreshCookieDead(err error) bool {
	return errors.Is(err, services.ErrInvalidToken) || errors.Is(err, services.ErrPrincipalNotFound)
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func tokenResponse(result *services.AuthResult) TokenResponse {
	return TokenResponse{
		AccessToken: result.Tokens.AccessToken,
		ExpiresAt:   result.Tokens.AccessExpiresAt,
		Principal:   result.Principal,
	}
}
