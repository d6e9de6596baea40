package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	EngineURL   string
	AssetDir    string

	WorkerCount     int
	QueueMaxPending int

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	MaxMessageBytes   int64
	ClientTrimBytes   int
	EphemeralLingerMS int
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RateLimitPerMin   int
	AllowedOrigins    []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: without it the completion
// history is disabled but the service runs fully.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		EngineURL:   getEnv("ENGINE_URL", "http://127.0.0.1:8090"),
		AssetDir:    getEnv("ASSET_DIR", "./assets"),

		WorkerCount:     getEnvInt("WORKER_COUNT", 2),
		QueueMaxPending: getEnvInt("QUEUE_MAX_PENDING", 256),

		HeartbeatInterval: time.Second * time.Duration(getEnvInt("WS_HEARTBEAT_SECONDS", 10)),
		IdleTimeout:       time.Second * time.Duration(getEnvInt("WS_IDLE_TIMEOUT_SECONDS", 60)),
		MaxMessageBytes:   int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 4<<20)),
		ClientTrimBytes:   getEnvInt("CLIENT_TRIM_THRESHOLD_BYTES", 8<<20),
		EphemeralLingerMS: getEnvInt("WS_EPHEMERAL_LINGER_MS", 250),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		AllowedOrigins:    splitCSV(getEnv("ALLOWED_ORIGINS", "")),
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

func splitCSV(v string) []string {
	if v == "" {
		return nil
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
