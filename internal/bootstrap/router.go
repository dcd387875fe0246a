package bootstrap

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	httpapi "github.com/psp-platform/solver-director/internal/api/http"
	"github.com/psp-platform/solver-director/internal/api/middleware"
	"github.com/psp-platform/solver-director/internal/auth"
	"github.com/psp-platform/solver-director/internal/groups"
	"github.com/psp-platform/solver-director/internal/instances"
	"github.com/psp-platform/solver-director/internal/problems"
	projectshttp "github.com/psp-platform/solver-director/internal/projects/http"
	"github.com/psp-platform/solver-director/internal/projects/service"
	"github.com/psp-platform/solver-director/internal/solvers"
)

type RouterDeps struct {
	ServiceName string
	Version     string
	DB          *pgxpool.Pool

	Verifier auth.TokenVerifier
	Projects *service.ProjectService

	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()

	if len(dep.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     dep.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB)
	healthHandler.RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.RequestID())
	api.Use(auth.Middleware(dep.Verifier))
	if dep.RateLimitRPS > 0 {
		api.Use(middleware.RateLimit(rate.Limit(dep.RateLimitRPS), dep.RateLimitBurst))
	}

	projectshttp.Register(api.Group("/projects"), dep.Projects)

	groupsRepo := groups.NewRepo(dep.DB)
	groups.Register(api.Group("/groups"), groupsRepo)

	problemsRepo := problems.NewRepo(dep.DB)
	problemsGroup := api.Group("/problems")
	problems.Register(problemsGroup, problemsRepo)

	instancesRepo := instances.NewRepo(dep.DB)
	instances.Register(problemsGroup, api.Group("/instances"), instancesRepo)

	solversRepo := solvers.NewRepo(dep.DB)
	solvers.Register(api.Group("/solvers"), solversRepo)

	return r
}
