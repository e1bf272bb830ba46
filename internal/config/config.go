package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Durability selects the dedup store's fsync policy.
type Durability string

const (
	// DurabilityStrict fsyncs the store on every successful mutation.
	DurabilityStrict Durability = "strict"
	// DurabilityCheckpoint fsyncs on a mutation-count checkpoint boundary
	// (or on close). This is the default trade-off.
	DurabilityCheckpoint Durability = "checkpoint"
)

// Config is the top-level configuration for an eventagg server.
type Config struct {
	DataDir       string     `json:"dataDir"`
	BindAddr      string     `json:"bindAddr"`
	QueueCapacity int        `json:"queueCapacity"`
	BatchMax      int        `json:"batchMax"`
	Durability    Durability `json:"durability"`
	LogLevel      string     `json:"logLevel"`
	LogFormat     string     `json:"logFormat"`
	// ShutdownGraceMs bounds how long the consumer loop is given to drain the
	// ingestion queue during a graceful shutdown, in milliseconds.
	ShutdownGraceMs int `json:"shutdownGraceMs"`
}

// Default returns built-in defaults matching spec section 6's enumerated
// configuration knobs.
func Default() Config {
	return Config{
		DataDir:         "",
		BindAddr:        "0.0.0.0:8080",
		QueueCapacity:   10000,
		BatchMax:        1000,
		Durability:      DurabilityCheckpoint,
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownGraceMs: 5000,
	}
}

// Validate checks invariants that Default() always satisfies but a loaded
// or env-overlaid Config might not.
func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return errors.New("config: queueCapacity must be > 0")
	}
	if c.BatchMax <= 0 || c.BatchMax > 1000 {
		return errors.New("config: batchMax must be in [1, 1000]")
	}
	if c.BindAddr == "" {
		return errors.New("config: bindAddr required")
	}
	switch c.Durability {
	case DurabilityStrict, DurabilityCheckpoint:
	default:
		return fmt.Errorf("config: unknown durability %q", c.Durability)
	}
	return nil
}

// Load reads configuration from a JSON file, overlaying Default(). If path
// is empty, returns Default() unchanged.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported yet; use JSON for now")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
