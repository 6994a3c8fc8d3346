package prompts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/server/middleware"
	"finsight-backend/internal/shared/server/respond"
	"finsight-backend/internal/usage"
)

// Handler wires HTTP handlers to the prompt pipeline.
type Handler struct {
	Svc        *Service
	Principals identity.PrincipalResolver
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, principals identity.PrincipalResolver) *Handler {
	return &Handler{Svc: svc, Principals: principals}
}

// RegisterRoutes attaches prompt routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/prompts", h.submit)
	rg.GET("/prompts", h.list)
	rg.GET("/prompts/:id", h.get)
	rg.POST("/prompts/:id/execute", h.execute)
	rg.GET("/prompts/:id/results", h.results)
	rg.POST("/prompts/:id/cancel", h.cancel)
}

type submitRequest struct {
	Prompt     string        `json:"prompt"`
	DatasetIDs []string      `json:"datasetIds"`
	Settings   SettingsInput `json:"settings"`
}

type executeRequest struct {
	Options map[string]any `json:"options"`
}

func (h *Handler) principal(c *gin.Context) (identity.Principal, bool) {
	p, err := h.Principals.Principal(c.Request.Context(), middleware.ClaimsFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve user", nil)
		return identity.Principal{}, false
	}
	return p, true
}

func (h *Handler) submit(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	prompt, err := h.Svc.Submit(ctx, SubmitInput{
		Prompt:     req.Prompt,
		DatasetIDs: req.DatasetIDs,
		Settings:   req.Settings,
	}, p)
	if err != nil {
		h.writeError(c, err, "failed to submit prompt")
		return
	}
	c.Set("promptId", prompt.ID)
	c.Set("statusTransition", "->"+prompt.Status)
	respond.Accepted(c, "/api/v1/prompts/"+prompt.ID, gin.H{"promptId": prompt.ID, "status": prompt.Status})
}

func (h *Handler) list(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	limit := DefaultListLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	list, err := h.Svc.List(c.Request.Context(), p, limit)
	if err != nil {
		h.writeError(c, err, "failed to list prompts")
		return
	}
	respond.OK(c, gin.H{"prompts": list})
}

func (h *Handler) get(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	c.Set("promptId", c.Param("id"))
	prompt, err := h.Svc.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.writeError(c, err, "failed to fetch prompt")
		return
	}
	respond.OK(c, prompt)
}

func (h *Handler) execute(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}
	c.Set("promptId", c.Param("id"))
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	prompt, err := h.Svc.Execute(ctx, c.Param("id"), req.Options, p)
	if err != nil {
		h.writeError(c, err, "failed to execute prompt")
		return
	}
	c.Set("statusTransition", StatusGenerated+"->"+prompt.Status)
	respond.Accepted(c, "/api/v1/prompts/"+prompt.ID, gin.H{"promptId": prompt.ID, "status": prompt.Status})
}

func (h *Handler) results(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	c.Set("promptId", c.Param("id"))
	res, err := h.Svc.Results(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.writeError(c, err, "failed to fetch results")
		return
	}
	respond.OK(c, res)
}

func (h *Handler) cancel(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	c.Set("promptId", c.Param("id"))
	prompt, err := h.Svc.Cancel(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.writeError(c, err, "failed to cancel prompt")
		return
	}
	respond.Accepted(c, "/api/v1/prompts/"+prompt.ID, gin.H{"promptId": prompt.ID, "status": prompt.Status})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrValidation):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrAccessDenied):
		respond.Error(c, http.StatusForbidden, "access_denied", "prompt access denied", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "prompt not found", nil)
	case errors.Is(err, ErrInvalidState):
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, ErrResultsNotAvailable):
		respond.Error(c, http.StatusConflict, "results_not_available", "results are not available yet", nil)
	case errors.Is(err, usage.ErrLimitReached):
		respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your prompt limit. Upgrade your plan to continue.", []map[string]string{
			{"field": "usage", "issue": "limit_reached"},
		})
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
