package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// DatabaseDriver selects the durable store backend: "postgres" or "sqlite".
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret          string
	AccessTokenMinutes int

	UploadDir   string
	CORSOrigins []string
	Debug       bool

	// Chat core tunables.
	FastTierThreshold    int
	DirectoryFlushWindow time.Duration
	PreviewTTL           time.Duration
	LocationTTL          time.Duration
	JobMaxAttempts       int
	KeepAliveInterval    time.Duration
	ConversationPageSize int
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "parcelchat")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "ParcelChat API"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    u.String(),
		SQLitePath:     getEnv("SQLITE_PATH", "parcelchat.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),

		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
		Debug:     getEnvAsBool("DEBUG", true),

		FastTierThreshold:    getEnvAsInt("FAST_TIER_THRESHOLD", 5),
		DirectoryFlushWindow: getEnvAsDuration("DIRECTORY_FLUSH_WINDOW", 10*time.Minute),
		PreviewTTL:           getEnvAsDuration("PREVIEW_TTL", time.Hour),
		LocationTTL:          getEnvAsDuration("AGENT_LOCATION_TTL", 5*time.Minute),
		JobMaxAttempts:       getEnvAsInt("JOB_MAX_ATTEMPTS", 3),
		KeepAliveInterval:    getEnvAsDuration("WS_KEEPALIVE_INTERVAL", 30*time.Second),
		ConversationPageSize: getEnvAsInt("CONVERSATION_PAGE_SIZE", 10),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be 'postgres' or 'sqlite', got %q", cfg.DatabaseDriver)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
