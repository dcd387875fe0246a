package http

import (
	"github.com/gin-gonic/gin"

	"github.com/psp-platform/solver-director/internal/auth"
	"github.com/psp-platform/solver-director/internal/projects/service"
)

// Register mounts the project routes. Write operations need projects:write,
// reads need projects:read.
func Register(rg *gin.RouterGroup, svc *service.ProjectService) {
	h := NewHandler(svc)

	rg.POST("", auth.RequireScope(auth.ScopeProjectsWrite), h.create)
	rg.GET("", auth.RequireScope(auth.ScopeProjectsRead), h.list)
	rg.GET("/:id/status", auth.RequireScope(auth.ScopeProjectsRead), h.status)
	rg.GET("/:id/config", auth.RequireScope(auth.ScopeProjectsRead), h.config)
	rg.GET("/:id/solution", auth.RequireScope(auth.ScopeProjectsRead), h.solution)
	rg.DELETE("/:id", auth.RequireScope(auth.ScopeProjectsWrite), h.delete)
}
