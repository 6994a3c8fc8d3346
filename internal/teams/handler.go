package teams

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/server/middleware"
	"finsight-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc        *Service
	Principals identity.PrincipalResolver
}

func NewHandler(svc *Service, principals identity.PrincipalResolver) *Handler {
	return &Handler{Svc: svc, Principals: principals}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/teams/current", h.current)
	rg.POST("/teams", h.create)
	rg.POST("/teams/current/members", h.addMember)
}

func (h *Handler) principal(c *gin.Context) (identity.Principal, bool) {
	p, err := h.Principals.Principal(c.Request.Context(), middleware.ClaimsFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve user", nil)
		return identity.Principal{}, false
	}
	return p, true
}

func (h *Handler) current(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	if !p.HasTeam() {
		respond.Error(c, http.StatusNotFound, "not_found", "user has no team", nil)
		return
	}
	team, err := h.Svc.Get(c.Request.Context(), p.TeamID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, team)
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	p, ok := h.principal(c)
	if !ok {
		return
	}
	if p.HasTeam() {
		h.writeError(c, ErrAlreadyInTeam)
		return
	}
	team, err := h.Svc.Create(c.Request.Context(), p.UserID, in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.Created(c, "/api/v1/teams/current", team)
}

func (h *Handler) addMember(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid json body", nil)
		return
	}
	p, ok := h.principal(c)
	if !ok {
		return
	}
	if !p.HasTeam() {
		respond.Error(c, http.StatusNotFound, "not_found", "user has no team", nil)
		return
	}
	team, err := h.Svc.AddMember(c.Request.Context(), p.TeamID, p.UserID, body.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, team)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "team not found", nil)
	case errors.Is(err, ErrNotOwner):
		respond.Error(c, http.StatusForbidden, "access_denied", err.Error(), nil)
	case errors.Is(err, ErrAlreadyInTeam):
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "team request failed", nil)
	}
}
