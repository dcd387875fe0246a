package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server           ServerConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	RabbitMQ         RabbitMQConfig
	Kube             KubeConfig
	SolverController SolverControllerConfig
	DataGatherer     DataGathererConfig
	Auth             AuthConfig
	Limits           LimitsConfig
	Reconcile        ReconcileConfig
	App              AppConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string

	// Per-caller request budget for the API surface.
	RateLimitRPS   int
	RateLimitBurst int
}

type DatabaseConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	StatusTTL time.Duration
}

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string

	// Shared queue every project's data gatherer reports into.
	DirectorResultQueue string

	// Client-credentials auth against the identity provider; when TokenURL
	// is empty the collector and publisher fall back to User/Password.
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type KubeConfig struct {
	InCluster  bool
	Kubeconfig string

	// Name and namespace of the registry pull-secret template copied into
	// every project namespace.
	PullSecretName      string
	PullSecretNamespace string
}

type SolverControllerConfig struct {
	Image         string
	ServiceName   string
	ContainerPort int
	ServicePort   int
	CallbackURL   string
}

type DataGathererConfig struct {
	Image         string
	ServiceName   string
	ContainerPort int
}

type AuthConfig struct {
	JWKSURL  string
	Audience string
}

type LimitsConfig struct {
	MaxUserControllers int
	SolverQuotaCPU     int
	SolverQuotaMemGiB  int
	SolutionChunkSize  int
}

type ReconcileConfig struct {
	Enabled     bool
	Schedule    string
	GracePeriod time.Duration
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", nil),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			DSN:      getEnv("DB_DSN", ""),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			StatusTTL: getEnvAsDuration("STATUS_CACHE_TTL", 5*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			Host:                getEnv("RABBITMQ_HOST", "rabbitmq"),
			Port:                getEnvAsInt("RABBITMQ_PORT", 5672),
			User:                getEnv("RABBITMQ_USER", "guest"),
			Password:            getEnv("RABBITMQ_PASSWORD", "guest"),
			DirectorResultQueue: getEnv("SOLVER_DIRECTOR_RESULT_QUEUE", "solver-director-result"),
			TokenURL:            getEnv("RABBITMQ_TOKEN_URL", ""),
			ClientID:            getEnv("RABBITMQ_CLIENT_ID", "solver-director"),
			ClientSecret:        getEnv("RABBITMQ_CLIENT_SECRET", ""),
		},
		Kube: KubeConfig{
			InCluster:           getEnvAsBool("KUBE_IN_CLUSTER", true),
			Kubeconfig:          getEnv("KUBECONFIG", ""),
			PullSecretName:      getEnv("PULL_SECRET_NAME", "harbor-pull"),
			PullSecretNamespace: getEnv("PULL_SECRET_NAMESPACE", "psp"),
		},
		SolverController: SolverControllerConfig{
			Image:         getEnv("SOLVER_CONTROLLER_IMAGE", "harbor.local/psp/solver-controller:latest"),
			ServiceName:   getEnv("SOLVER_CONTROLLER_SVC", "solver-controller"),
			ContainerPort: getEnvAsInt("SOLVER_CONTROLLER_CONTAINER_PORT", 8080),
			ServicePort:   getEnvAsInt("SOLVER_CONTROLLER_SERVICE_PORT", 80),
			CallbackURL:   getEnv("SOLVER_CONTROLLER_CALLBACK_URL", "http://solver-director.psp.svc.cluster.local:8080"),
		},
		DataGatherer: DataGathererConfig{
			Image:         getEnv("DATA_GATHERER_IMAGE", "harbor.local/psp/data-gatherer:latest"),
			ServiceName:   getEnv("DATA_GATHERER_SVC", "data-gatherer"),
			ContainerPort: getEnvAsInt("DATA_GATHERER_CONTAINER_PORT", 8080),
		},
		Auth: AuthConfig{
			JWKSURL:  getEnv("AUTH_JWKS_URL", ""),
			Audience: getEnv("AUTH_AUDIENCE", "solver-director"),
		},
		Limits: LimitsConfig{
			MaxUserControllers: getEnvAsInt("MAX_USER_CONTROLLERS", 2),
			SolverQuotaCPU:     getEnvAsInt("SOLVER_QUOTA_CPU", 8),
			SolverQuotaMemGiB:  getEnvAsInt("SOLVER_QUOTA_MEM_GIB", 16),
			SolutionChunkSize:  getEnvAsInt("SOLUTION_RETRIEVAL_CHUNK_SIZE", 500),
		},
		Reconcile: ReconcileConfig{
			Enabled:     getEnvAsBool("RECONCILE_ENABLED", false),
			Schedule:    getEnv("RECONCILE_SCHEDULE", "0 */30 * * * *"),
			GracePeriod: getEnvAsDuration("RECONCILE_GRACE_PERIOD", time.Hour),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.RabbitMQ.DirectorResultQueue == "" {
		return fmt.Errorf("SOLVER_DIRECTOR_RESULT_QUEUE is required")
	}
	if c.Limits.MaxUserControllers <= 0 {
		return fmt.Errorf("MAX_USER_CONTROLLERS must be positive")
	}
	if c.Limits.SolutionChunkSize <= 0 {
		return fmt.Errorf("SOLUTION_RETRIEVAL_CHUNK_SIZE must be positive")
	}
	return nil
}

// AMQPURL builds the broker URL for plain credential connections.
func (c *RabbitMQConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Password, c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvAsBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvAsSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
