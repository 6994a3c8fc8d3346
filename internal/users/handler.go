package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/shared/server/middleware"
	"finsight-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
	rg.PATCH("/me/preferences", h.updatePreferences)
}

func (h *Handler) me(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	user, err := h.Svc.EnsureFromClaims(c.Request.Context(), middleware.ClaimsFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}
	respond.OK(c, toResponse(user))
}

func (h *Handler) updatePreferences(c *gin.Context) {
	var patch map[string]*string
	if err := c.ShouldBindJSON(&patch); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Svc.EnsureFromClaims(ctx, middleware.ClaimsFromContext(c)); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}
	user, err := h.Svc.UpdatePreferences(ctx, middleware.UserIDFromContext(c), patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "user not found", nil)
			return
		}
		if errors.Is(err, ErrUnknownPreference) {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update preferences", nil)
		return
	}
	respond.OK(c, toResponse(user))
}

func toResponse(user User) gin.H {
	return gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"fullName":    user.FullName,
		"teamId":      user.TeamID,
		"plan":        user.Plan,
		"preferences": user.Preferences,
	}
}
