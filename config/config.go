// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Tracing   TracingConfig
	Ingest    IngestConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	// MaxImportBytes caps the JSON body of POST /api/imports.
	MaxImportBytes int64
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string
}

// RedisConfig enables the shared leaderboard cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// LogConfig selects zap level and encoder.
type LogConfig struct {
	Level  string
	Format string
}

// TracingConfig configures OTLP export. Empty Endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Environment string
}

// IngestConfig tunes batch evaluation.
type IngestConfig struct {
	Workers            int
	CurrentQuarterOnly bool
	ExcludedReps       []string
}

// SchedulerConfig controls the background eligibility rescan.
type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads envFiles (default ".env") if present, then the environment.
// Variables already set in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			MaxImportBytes: int64(getEnvInt("MAX_IMPORT_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "bonus.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("LEADERBOARD_CACHE_TTL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "bonus-engine"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Ingest: IngestConfig{
			Workers:            getEnvInt("INGEST_WORKERS", 8),
			CurrentQuarterOnly: getEnvBool("INGEST_CURRENT_QUARTER_ONLY", false),
			ExcludedReps:       getEnvList("EXCLUDED_SALES_REPS", nil),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnvBool("RESCAN_ENABLED", true),
			Interval: getEnvDuration("RESCAN_INTERVAL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be >= 1, got %d", c.Ingest.Workers)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("RESCAN_INTERVAL must be positive, got %s", c.Scheduler.Interval)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
