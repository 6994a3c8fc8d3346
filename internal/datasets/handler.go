package datasets

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/identity"
	"finsight-backend/internal/shared/server/middleware"
	"finsight-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc        *Service
	Principals identity.PrincipalResolver
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, principals identity.PrincipalResolver) *Handler {
	return &Handler{Svc: svc, Principals: principals}
}

// RegisterRoutes attaches dataset routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/datasets", h.upload)
	rg.GET("/datasets", h.list)
	rg.GET("/datasets/:id", h.get)
	rg.GET("/datasets/:id/url", h.signedURL)
}

func (h *Handler) principal(c *gin.Context) (identity.Principal, bool) {
	p, err := h.Principals.Principal(c.Request.Context(), middleware.ClaimsFromContext(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resolve user", nil)
		return identity.Principal{}, false
	}
	return p, true
}

func (h *Handler) upload(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+(1<<20))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	in := UploadInput{
		FileName:      fileHeader.Filename,
		Name:          c.PostForm("name"),
		Description:   c.PostForm("description"),
		Metadata:      c.PostFormMap("metadata"),
		ShareWithTeam: strings.EqualFold(c.PostForm("shared"), "team"),
	}
	ds, err := h.Svc.Upload(c.Request.Context(), p, in, file)
	if err != nil {
		h.writeError(c, err, "failed to upload dataset")
		return
	}
	c.Set("datasetId", ds.ID)
	respond.Created(c, "/api/v1/datasets/"+ds.ID, ds)
}

func (h *Handler) list(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	items, err := h.Svc.List(c.Request.Context(), p, limit)
	if err != nil {
		h.writeError(c, err, "failed to list datasets")
		return
	}
	summaries := make([]gin.H, 0, len(items))
	for _, ds := range items {
		summaries = append(summaries, gin.H{
			"id":        ds.ID,
			"name":      ds.Name,
			"teamId":    ds.TeamID,
			"fileName":  ds.FileName,
			"sizeBytes": ds.SizeBytes,
			"rowCount":  ds.RowCount,
			"createdAt": ds.CreatedAt,
		})
	}
	respond.OK(c, gin.H{"items": summaries})
}

func (h *Handler) get(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	c.Set("datasetId", id)
	ds, err := h.Svc.Get(c.Request.Context(), id, p)
	if err != nil {
		h.writeError(c, err, "failed to fetch dataset")
		return
	}
	respond.OK(c, ds)
}

func (h *Handler) signedURL(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	c.Set("datasetId", id)
	var ttl time.Duration
	if v := c.Query("ttl"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "ttl must be a duration like 10m", nil)
			return
		}
		ttl = parsed
	}
	u, expires, err := h.Svc.SignedURL(c.Request.Context(), id, p, ttl)
	if err != nil {
		h.writeError(c, err, "failed to sign url")
		return
	}
	respond.OK(c, gin.H{"url": u, "expiresAt": expires})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "dataset not found", nil)
	case errors.Is(err, ErrAccessDenied):
		respond.Error(c, http.StatusForbidden, "access_denied", "dataset access denied", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
