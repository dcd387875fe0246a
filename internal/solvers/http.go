package solvers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo *Repo
}

func Register(rg *gin.RouterGroup, repo *Repo) {
	h := &Handler{repo: repo}
	rg.GET("", h.list)
	rg.GET("/:id", h.get)
	rg.POST("", h.create)
	rg.DELETE("/:id", h.delete)
}

type createReq struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
	GroupIDs  []int  `json:"group_ids"`
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.ImagePath) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "name and image_path are required"})
		return
	}
	if len(req.GroupIDs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "At least one group_id is required"})
		return
	}

	s, err := h.repo.Create(c.Request.Context(), req.Name, req.ImagePath, req.GroupIDs)
	if err != nil {
		if errors.Is(err, ErrGroupsMissing) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrGroupsMissing.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.repo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}
	s, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}
	ok, err := h.repo.Delete(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
