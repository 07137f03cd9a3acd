package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	RedisAddr     string
	RedisPassword string

	// Base URL of the Python analysis backend.
	BackendURL     string
	BackendTimeout time.Duration

	// Interval for the pull channel and the advanced poll worker.
	PollInterval time.Duration
	// Upper bound on how long the advanced poll worker waits for a terminal status.
	PollDeadline time.Duration

	// "flag" (default) or "presence": how the one-shot partial fetch is
	// guarded. Presence reproduces the retry-on-empty behavior.
	PartialGuard string

	// Local directory for exported reports when Supabase is not configured.
	DataDir string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	TaskMaxRetries int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
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

func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8081"),

		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		BackendURL:     getenv("BACKEND_URL", "http://localhost:8000"),
		BackendTimeout: getenvDuration("BACKEND_TIMEOUT", 60*time.Second),

		PollInterval: getenvDuration("POLL_INTERVAL", 2*time.Second),
		PollDeadline: getenvDuration("POLL_DEADLINE", 30*time.Minute),

		PartialGuard: getenv("PARTIAL_GUARD", "flag"),
		DataDir:      getenv("DATA_DIR", "./data"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "reports"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 3),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	if cfg.BackendURL == "" {
		panic(fmt.Errorf("BACKEND_URL is required"))
	}
	return cfg
}
