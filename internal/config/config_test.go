package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.QueueCapacity != 10000 {
		t.Fatalf("default queue capacity")
	}
	if cfg.BatchMax != 1000 {
		t.Fatalf("default batch max")
	}
	if cfg.Durability != DurabilityCheckpoint {
		t.Fatalf("default durability")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "eventagg.json")
	data := []byte(`{"dataDir":"/tmp/eventagg-data","bindAddr":"127.0.0.1:9090","queueCapacity":500,"batchMax":50,"durability":"strict"}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/eventagg-data" {
		t.Fatalf("expected data dir override")
	}
	if cfg.BindAddr != "127.0.0.1:9090" {
		t.Fatalf("expected bind addr override")
	}
	if cfg.QueueCapacity != 500 {
		t.Fatalf("expected queue capacity override")
	}
	if cfg.Durability != DurabilityStrict {
		t.Fatalf("expected durability override")
	}
}

func TestLoadRejectsYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "eventagg.yaml")
	if err := os.WriteFile(file, []byte("dataDir: /tmp"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatal("expected error loading yaml config")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("EVENTAGG_BIND_ADDR", "0.0.0.0:9999")
	os.Setenv("EVENTAGG_QUEUE_CAPACITY", "42")
	os.Setenv("EVENTAGG_DURABILITY", "strict")
	t.Cleanup(func() {
		os.Unsetenv("EVENTAGG_BIND_ADDR")
		os.Unsetenv("EVENTAGG_QUEUE_CAPACITY")
		os.Unsetenv("EVENTAGG_DURABILITY")
	})
	FromEnv(&cfg)
	if cfg.BindAddr != "0.0.0.0:9999" {
		t.Fatalf("env override bind addr")
	}
	if cfg.QueueCapacity != 42 {
		t.Fatalf("env override queue capacity")
	}
	if cfg.Durability != DurabilityStrict {
		t.Fatalf("env override durability")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.BatchMax = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero batch max")
	}
	cfg = Default()
	cfg.Durability = "eventual"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown durability")
	}
}
