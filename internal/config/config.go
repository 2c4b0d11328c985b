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

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type AppConfig struct {
	Port string

	OpenAQAPIKey  string
	OpenAQBaseURL string

	// UpstreamTimeout bounds one upstream HTTP exchange.
	UpstreamTimeout time.Duration
	// ComputeTimeout bounds one shared city computation.
	ComputeTimeout time.Duration

	// AnnualStrictYear nulls the annual window when no period matches the
	// reference year instead of falling back to the first period.
	AnnualStrictYear bool

	CacheBackend    string
	CacheMaxEntries int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	CityDirectoryFile string

	// WarmInterval controls how often directory cities are recomputed (0 = never).
	WarmInterval time.Duration

	CORSAllowOrigins string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.OpenAQAPIKey = os.Getenv("OPENAQ_API_KEY")
	cfg.OpenAQBaseURL = getenvDefault("OPENAQ_BASE_URL", "https://api.openaq.org")

	if cfg.UpstreamTimeout, err = getenvDuration("UPSTREAM_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.ComputeTimeout, err = getenvDuration("COMPUTE_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if cfg.WarmInterval, err = getenvDuration("WARM_INTERVAL", "0"); err != nil {
		return nil, err
	}

	if cfg.AnnualStrictYear, err = getenvBool("ANNUAL_STRICT_YEAR", false); err != nil {
		return nil, err
	}

	cfg.CacheBackend = strings.ToLower(getenvDefault("CACHE_BACKEND", CacheBackendMemory))
	switch cfg.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q: want %q or %q", cfg.CacheBackend, CacheBackendMemory, CacheBackendRedis)
	}
	cfg.CacheMaxEntries = getenvInt("CACHE_MAX_ENTRIES", 10000)
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)

	cfg.CityDirectoryFile = os.Getenv("CITY_DIRECTORY_FILE")
	cfg.CORSAllowOrigins = getenvDefault("CORS_ALLOW_ORIGINS", "*")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
