package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Tracing.MaxPathLength != 30 {
		t.Errorf("expected default max path length 30, got %d", cfg.Tracing.MaxPathLength)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Workers.ResolveWorkers != 4 {
		t.Errorf("expected default worker count, got %d", cfg.Workers.ResolveWorkers)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Tracing.MaxPathLength = 50
	cfg.Resolver.AnswersFile = "answers.toml"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ".tracer", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Tracing.MaxPathLength != 50 {
		t.Errorf("expected max path length 50, got %d", loaded.Tracing.MaxPathLength)
	}
	if loaded.Resolver.AnswersFile != "answers.toml" {
		t.Errorf("expected answers file to round-trip, got %q", loaded.Resolver.AnswersFile)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.MaxPathLength = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max path length")
	}

	cfg = DefaultConfig()
	cfg.Version = 99
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unsupported version")
	}

	cfg = DefaultConfig()
	cfg.Workers.TraceWorkers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for negative worker count")
	}
}
