package instances

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo *Repo
}

// Register mounts instance routes. Uploads and listing hang off the problem
// routes; file download and delete address instances directly.
func Register(problemsRG, instancesRG *gin.RouterGroup, repo *Repo) {
	h := &Handler{repo: repo}
	problemsRG.POST("/:id/instances", h.upload)
	problemsRG.GET("/:id/instances", h.listByProblem)
	instancesRG.GET("/:id/file", h.downloadFile)
	instancesRG.DELETE("/:id", h.delete)
}

func (h *Handler) upload(c *gin.Context) {
	problemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrProblemNotFound.Error()})
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

	in, err := h.repo.Create(c.Request.Context(), problemID, fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		if errors.Is(err, ErrProblemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrProblemNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (h *Handler) listByProblem(c *gin.Context) {
	problemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrProblemNotFound.Error()})
		return
	}
	items, err := h.repo.ListByProblem(c.Request.Context(), problemID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) downloadFile(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
		return
	}
	filename, contentType, data, err := h.repo.GetFile(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": ErrNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, data)
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
