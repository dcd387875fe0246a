package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psp-platform/solver-director/internal/auth"
	"github.com/psp-platform/solver-director/internal/projects/domain"
	"github.com/psp-platform/solver-director/internal/projects/service"
)

// detailInvalidProject is the one message every not-found and not-owned case
// answers with, so responses never reveal whether a foreign project exists.
const detailInvalidProject = "Invalid user or project"

type Handler struct {
	svc *service.ProjectService
}

func NewHandler(svc *service.ProjectService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) create(c *gin.Context) {
	var cfg domain.ProjectConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	p, err := h.svc.Create(c.Request.Context(), auth.UserID(c), cfg)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"detail": domain.ErrRateLimited.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Unable to create project"})
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.svc.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) status(c *gin.Context) {
	p, doc, err := h.svc.Status(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidProject})
		case errors.Is(err, domain.ErrStatusUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Project status temporarily unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         p.ID,
		"user_id":    p.UserID,
		"name":       p.Name,
		"created_at": p.CreatedAt,
		"status":     json.RawMessage(doc),
	})
}

func (h *Handler) config(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidProject})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, p.Configuration)
}

func (h *Handler) solution(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidProject})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename=project_"+p.ID.String()+".json")
	c.Status(http.StatusOK)

	flush := func() { c.Writer.Flush() }
	if err := h.svc.StreamSolution(c.Request.Context(), p.ID, c.Writer, flush); err != nil {
		// The response is already in flight; all we can do is log and cut
		// the stream short.
		log.Printf("projects: streaming solution for %s aborted: %v", p.ID, err)
	}
}

func (h *Handler) delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailInvalidProject})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}
