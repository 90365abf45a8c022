package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session storage backends.
const (
	SessionBackendFile   = "file"
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL string
	APITimeout time.Duration
	LogLevel   string
	LogFormat  string

	// SessionBackend selects where the session is persisted: file, redis or memory.
	SessionBackend   string
	SessionDir       string
	RedisURL         string
	SessionNamespace string

	MaxUploadBytes      int64
	UploadConcurrency   int
	RecheckPollInterval time.Duration

	PortalPort string
	GinMode    string
	// AllowedOrigins controls portal CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		APIBaseURL:          strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
		APITimeout:          time.Duration(getEnvInt("API_TIMEOUT_SECONDS", 60)) * time.Second,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		SessionBackend:      getEnv("SESSION_BACKEND", SessionBackendFile),
		SessionDir:          getEnv("SESSION_DIR", defaultSessionDir()),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionNamespace:    getEnv("SESSION_NAMESPACE", "default"),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_SIZE_MB", 10)) * 1024 * 1024,
		UploadConcurrency:   getEnvInt("UPLOAD_CONCURRENCY", 4),
		RecheckPollInterval: time.Duration(getEnvInt("RECHECK_POLL_SECONDS", 15)) * time.Second,
		PortalPort:          getEnv("PORTAL_PORT", "8090"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func defaultSessionDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".exstem-session"
	}
	return dir + string(os.PathSeparator) + "exstem"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
