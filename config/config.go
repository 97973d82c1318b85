// Package config loads stockpool's process configuration from the environment (§6
// "Configuration (environment)"). No third-party config/env library appears anywhere in the
// example corpus for this concern (see DESIGN.md); os.Getenv plus strconv is the stdlib
// fallback used here.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the fully resolved process configuration, assembled once at startup.
type Config struct {
	EnginePath       string
	PoolSize         int
	ReservedForLive  int
	ThreadsPerWorker int
	HashPerWorkerMB  int
	PoolMaxQueue     int
	TaskTimeout      time.Duration

	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	LiveSessionIdleTimeout time.Duration
	LiveSessionGCInterval  time.Duration
}

// Load resolves Config from the environment, applying the defaults named in §6 and §10.3.
func Load() Config {
	return Config{
		EnginePath:       getString("ENGINE_PATH", defaultEnginePath()),
		PoolSize:         getInt("POOL_SIZE", 4),
		ReservedForLive:  getInt("RESERVED_FOR_LIVE", 1),
		ThreadsPerWorker: getInt("THREADS_PER_WORKER", 1),
		HashPerWorkerMB:  getInt("HASH_PER_WORKER_MB", 128),
		PoolMaxQueue:     getInt("POOL_MAX_QUEUE", 200),
		TaskTimeout:      getMillis("TASK_TIMEOUT_MS", 30*time.Second),

		HTTPAddr:    getString("HTTP_ADDR", ":8080"),
		DatabaseURL: getString("DATABASE_URL", ""),
		LogLevel:    getString("LOG_LEVEL", "info"),

		LiveSessionIdleTimeout: getMillis("LIVE_SESSION_IDLE_TIMEOUT_MS", 30*time.Minute),
		LiveSessionGCInterval:  getMillis("LIVE_SESSION_GC_INTERVAL_MS", 5*time.Minute),
	}
}

// defaultEnginePath picks the platform-dependent Stockfish default named in §6.
func defaultEnginePath() string {
	switch runtime.GOOS {
	case "darwin":
		return "/usr/local/bin/stockfish"
	case "windows":
		return "./stockfish.exe"
	default:
		return "/usr/bin/stockfish"
	}
}

func getString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getMillis(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
