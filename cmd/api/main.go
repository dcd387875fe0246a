package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/psp-platform/solver-director/config"
	"github.com/psp-platform/solver-director/internal/auth"
	"github.com/psp-platform/solver-director/internal/bootstrap"
	"github.com/psp-platform/solver-director/internal/db"
	"github.com/psp-platform/solver-director/internal/projects"
	"github.com/psp-platform/solver-director/internal/projects/service"
	"github.com/psp-platform/solver-director/internal/queue"
	"github.com/psp-platform/solver-director/internal/reconcile"
	"github.com/psp-platform/solver-director/internal/spawner"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	var statusCache *redis.Client
	if cfg.Redis.Addr != "" {
		statusCache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer statusCache.Close()
	}

	kubeClient, err := spawner.NewClient(cfg.Kube)
	if err != nil {
		log.Fatalf("kubernetes client: %v", err)
	}
	spawn := spawner.New(kubeClient, cfg)

	brokerAuth := queue.NewBrokerAuth(cfg.RabbitMQ)
	publisher := queue.NewPublisher(brokerAuth)

	projectRepo := projects.NewRepo(database.Pool)
	statusClient := service.NewControllerStatusClient(cfg.SolverController, statusCache, cfg.Redis.StatusTTL)
	projectSvc := service.NewProjectService(projectRepo, spawn, publisher, statusClient, cfg.Limits.SolutionChunkSize)

	collector := queue.NewCollector(brokerAuth, cfg.RabbitMQ.DirectorResultQueue, projectRepo, spawn)
	collectorHandle := collector.Start(ctx)

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.NewSweeper(projectRepo, spawn, cfg.Reconcile.GracePeriod)
		if err := sweeper.Start(cfg.Reconcile.Schedule); err != nil {
			log.Fatalf("reconcile sweeper: %v", err)
		}
		defer sweeper.Stop()
	}

	verifier, err := auth.NewJWKSVerifier(cfg.Auth)
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    "solver-director",
		Version:        cfg.App.Version,
		DB:             database.Pool,
		Verifier:       verifier,
		Projects:       projectSvc,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	collectorHandle.Stop()
}
