package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TrustedNode.URL != "https://arweave.net" {
		t.Fatalf("unexpected default trusted node url: %q", cfg.TrustedNode.URL)
	}
	if cfg.RateLimit.DefaultBucket != 100 {
		t.Fatalf("unexpected default bucket capacity: %d", cfg.RateLimit.DefaultBucket)
	}
}

func TestLoadMergesNamedEnvironment(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	if err := os.Mkdir("config", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join("config", "default.yaml"), []byte("trusted_node:\n  url: https://default.example\n"), 0o644); err != nil {
		t.Fatalf("WriteFile default: %v", err)
	}
	if err := os.WriteFile(filepath.Join("config", "staging.yaml"), []byte("trusted_node:\n  url: https://staging.example\n"), 0o644); err != nil {
		t.Fatalf("WriteFile staging: %v", err)
	}

	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TrustedNode.URL != "https://staging.example" {
		t.Fatalf("expected staging override, got %q", cfg.TrustedNode.URL)
	}
}
