package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("token: abc\nshard_count: 4\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "abc" || cfg.ShardCount != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Redis.Prefix != "gateway-proxy" {
		t.Fatalf("expected default redis prefix, got %q", cfg.Redis.Prefix)
	}
	if cfg.Downstream.ListenAddress != ":8080" {
		t.Fatalf("expected default downstream listen address, got %q", cfg.Downstream.ListenAddress)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "token: abc\nredis:\n  prefix: custom\ndownstream:\n  listen_address: \":9999\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Prefix != "custom" {
		t.Fatalf("expected explicit redis prefix to be kept, got %q", cfg.Redis.Prefix)
	}
	if cfg.Downstream.ListenAddress != ":9999" {
		t.Fatalf("expected explicit downstream listen address to be kept, got %q", cfg.Downstream.ListenAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
