package config

import (
	"os"
	"strconv"
)

// FromEnv overlays EVENTAGG_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("EVENTAGG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EVENTAGG_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("EVENTAGG_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("EVENTAGG_BATCH_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchMax = n
		}
	}
	if v := os.Getenv("EVENTAGG_DURABILITY"); v != "" {
		cfg.Durability = Durability(v)
	}
	if v := os.Getenv("EVENTAGG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EVENTAGG_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("EVENTAGG_SHUTDOWN_GRACE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ShutdownGraceMs = n
		}
	}
}
