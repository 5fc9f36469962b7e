package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	Port         string
	StoreDriver  string
	DatabaseURL  string
	DBMaxConns   int
	RedisURL     string
	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	GeoIPDBPath  string
	StoragePath  string
	CORSOrigins  []string
	StoreTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	JobMaxRetries           int
	RetryBase               time.Duration
	RetryCap                time.Duration
	CompletedRetention      time.Duration
	HistoryRetention        time.Duration
	QueueCompletedRetention time.Duration
	QueueFailedRetention    time.Duration
	PollInterval            time.Duration
	PollConcurrency         int
	CleanupInterval         time.Duration
	WorkerConcurrency       int
	WorkerIdleWait          time.Duration
	WorkerJobTimeout        time.Duration
	WorkerStepDelay         time.Duration
	QueuePrefix             string
	DefaultLocale           string
	CategoryPriorities      map[string]int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:       getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBMaxConns:   getEnvInt("DB_MAX_CONNS", 10),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTIssuer:    os.Getenv("JWT_ISSUER"),
		JWTAudience:  os.Getenv("JWT_AUDIENCE"),
		GeoIPDBPath:  os.Getenv("GEOIP_DB_PATH"),
		StoragePath:  getEnv("STORAGE_PATH", "./storage"),
		CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		StoreTimeout: time.Second * time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 5)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		JobMaxRetries:           getEnvInt("JOB_MAX_RETRIES", 3),
		RetryBase:               time.Second * time.Duration(getEnvInt("RETRY_BASE_SECONDS", 30)),
		RetryCap:                time.Second * time.Duration(getEnvInt("RETRY_CAP_SECONDS", 300)),
		CompletedRetention:      time.Minute * time.Duration(getEnvInt("COMPLETED_RETENTION_MINUTES", 10)),
		HistoryRetention:        time.Hour * time.Duration(getEnvInt("HISTORY_RETENTION_HOURS", 168)),
		QueueCompletedRetention: time.Minute * time.Duration(getEnvInt("QUEUE_COMPLETED_RETENTION_MINUTES", 60)),
		QueueFailedRetention:    time.Hour * time.Duration(getEnvInt("QUEUE_FAILED_RETENTION_HOURS", 24)),
		PollInterval:            time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		PollConcurrency:         getEnvInt("POLL_CONCURRENCY", 16),
		CleanupInterval:         time.Second * time.Duration(getEnvInt("CLEANUP_INTERVAL_SECONDS", 60)),
		WorkerConcurrency:       getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerIdleWait:          time.Millisecond * time.Duration(getEnvInt("WORKER_IDLE_WAIT_MS", 500)),
		WorkerJobTimeout:        time.Second * time.Duration(getEnvInt("WORKER_JOB_TIMEOUT_SECONDS", 600)),
		WorkerStepDelay:         time.Millisecond * time.Duration(getEnvInt("WORKER_STEP_DELAY_MS", 1000)),
		QueuePrefix:             getEnv("QUEUE_PREFIX", "creditjobs"),
		DefaultLocale:           getEnv("DEFAULT_LOCALE", "en"),
		CategoryPriorities:      getEnvPriorities("QUEUE_PRIORITIES", "image=1,video=2,training=3"),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.JobMaxRetries < 0 {
		return nil, fmt.Errorf("JOB_MAX_RETRIES must not be negative")
	}
	if cfg.RetryBase <= 0 || cfg.RetryCap < cfg.RetryBase {
		return nil, fmt.Errorf("retry backoff requires 0 < RETRY_BASE_SECONDS <= RETRY_CAP_SECONDS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvPriorities parses "image=1,video=2". Malformed pairs are skipped.
func getEnvPriorities(key, fallback string) map[string]int {
	out := make(map[string]int)
	for _, pair := range strings.Split(getEnv(key, fallback), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out
}
