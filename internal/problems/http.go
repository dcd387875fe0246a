package problems

import (
	"errors"
	"io"
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
	rg.PUT("/:id/file", h.uploadFile)
	rg.GET("/:id/file", h.downloadFile)
	rg.DELETE("/:id", h.delete)
}

type createReq struct {
	Name     string `json:"name"`
	GroupIDs []int  `json:"group_ids"`
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "invalid body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Name cannot be empty"})
		return
	}
	if len(req.GroupIDs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "At least one group_id is required"})
		return
	}

	p, err := h.repo.Create(c.Request.Context(), req.Name, dedupe(req.GroupIDs))
	if err != nil {
		switch {
		case errors.Is(err, ErrGroupsMissing):
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrGroupsMissing.Error()})
		case errors.Is(err, ErrNameTaken):
			c.JSON(http.StatusBadRequest, gin.H{"detail": ErrNameTaken.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, p)
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
	p, err := h.repo.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) uploadFile(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}

	err = h.repo.SaveFile(c.Request.Context(), id, File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) downloadFile(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}
	f, err := h.repo.GetFile(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		case errors.Is(err, ErrNoFile):
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNoFile.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		}
		return
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", "attachment; filename="+f.Filename)
	c.Data(http.StatusOK, contentType, f.Data)
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

// dedupe keeps first occurrences, preserving order.
func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
