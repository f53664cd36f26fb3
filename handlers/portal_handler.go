package handlers

import (
	"context"
	"net/http"

	"github.com/upb/jobportal/middleware"
	"github.com/upb/jobportal/models"
	"github.com/upb/jobportal/services"
	"github.com/upb/jobportal/utils"
	"go.uber.org/zap"
)

// ProfileService loads the account behind a principal
type ProfileService interface {
	Profile(ctx context.Context, principal *models.Principal) (*models.Account, error)
}

// DashboardResponse is the landing payload of a role area
type DashboardResponse struct {
	Area      string            `json:"area"`
	Home      string            `json:"home"`
	Principal *models.Principal `json:"principal"`
}

// PortalHandler serves the protected /api/v1 endpoints. Every handler reads
// the principal placed in the context by the auth middleware.
type PortalHandler struct {
	profiles ProfileService
	logger   *zap.Logger
}

// NewPortalHandler creates a new PortalHandler
func NewPortalHandler(profiles ProfileService, logger *zap.Logger) *PortalHandler {
	return &PortalHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// HandleMe handles GET /api/v1/me
func (h *PortalHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthenticated, h.logger)
		return
	}

	account, err := h.profiles.Profile(r.Context(), principal)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, account); err != nil {
		h.logger.Error("failed to write profile response", zap.Error(err))
	}
}

// HandleAdminDashboard handles GET /api/v1/admin/dashboard
func (h *PortalHandler) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	h.writeDashboard(w, r, "admin", "/admin/dashboard")
}

// HandleUserDashboard handles GET /api/v1/users/dashboard
func (h *PortalHandler) HandleUserDashboard(w http.ResponseWriter, r *http.Request) {
	h.writeDashboard(w, r, "user", "/users/dashboard")
}

func (h *PortalHandler) writeDashboard(w http.ResponseWriter, r *http.Request, area, home string) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		HandleServiceError(w, services.ErrUnauthenticated, h.logger)
		return
	}

	resp := DashboardResponse{
		Area:      area,
		Home:      home,
		Principal: principal,
	}
	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write dashboard response", zap.Error(err))
	}
}
