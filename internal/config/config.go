package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

// Load reads the .env file specified by CANON_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CANON_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// StorageDriver selects the durable store: memory, postgres or badger.
// Defaults to postgres when DATABASE_URL is set, memory otherwise.
func StorageDriver() string {
	d := os.Getenv("STORAGE_DRIVER")
	if d != "" {
		return d
	}
	if DatabaseURL() != "" {
		return StoragePostgres
	}
	return StorageMemory
}

func BadgerPath() string {
	p := os.Getenv("BADGER_PATH")
	if p == "" {
		return "data/canon"
	}
	return p
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: none, openai, mock. Defaults to "none", which selects the
// keyword backend.
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "none"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "openai":
		return OpenAIAPIKey()
	default:
		return ""
	}
}

func EmbeddingTimeout() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("EMBEDDING_TIMEOUT_MS"))
	if err != nil || ms <= 0 {
		return 5 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// ContradictionThreshold is the default similarity threshold for checks.
// Defaults to 0.7.
func ContradictionThreshold() float64 {
	v, err := strconv.ParseFloat(os.Getenv("CONTRADICTION_THRESHOLD"), 64)
	if err != nil || v < 0 || v > 1 {
		return 0.7
	}
	return v
}

func ContradictionLimit() int {
	v, err := strconv.Atoi(os.Getenv("CONTRADICTION_LIMIT"))
	if err != nil || v <= 0 {
		return 5
	}
	return v
}

func ReindexInterval() time.Duration {
	s, err := strconv.Atoi(os.Getenv("REINDEX_INTERVAL_SECONDS"))
	if err != nil || s <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s) * time.Second
}

// APIKey is the bearer token required on /v1 routes. Empty disables auth.
func APIKey() string {
	return os.Getenv("CANON_API_KEY")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
