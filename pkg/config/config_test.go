package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Listen != "0.0.0.0:8000" {
		t.Errorf("expected 0.0.0.0:8000, got %s", cfg.Server.Listen)
	}
	if cfg.Audit.QuickSampleSize != 50 || cfg.Audit.StandardSampleSize != 100 || cfg.Audit.DeepSampleSize != 500 {
		t.Errorf("unexpected sample sizes: %+v", cfg.Audit)
	}
	if cfg.Audit.MatchThreshold != 0.85 {
		t.Errorf("expected threshold 0.85, got %v", cfg.Audit.MatchThreshold)
	}
	if cfg.Server.MaxConcurrentAudit != 2 {
		t.Errorf("expected 2 concurrent audits, got %d", cfg.Server.MaxConcurrentAudit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_FP_KEY", "s3cret-passphrase")

	content := `
fingerprints:
  dir: /var/lib/guardian
  encryption_key: ${TEST_FP_KEY}
audit:
  quick_sample_size: 5
  match_threshold: 0.9
models:
  cache_capacity_mb: 1024
inference:
  backend: grpc
  url: localhost:9000
  timeout: 30s
history:
  enabled: false
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Fingerprints.EncryptionKey != "s3cret-passphrase" {
		t.Errorf("env var not expanded: got %s", cfg.Fingerprints.EncryptionKey)
	}
	if got := cfg.Fingerprints.MasterPath(); got != "/var/lib/guardian/guardian_master_fingerprints.enc" {
		t.Errorf("unexpected master path %s", got)
	}
	if cfg.Audit.QuickSampleSize != 5 {
		t.Errorf("expected quick=5, got %d", cfg.Audit.QuickSampleSize)
	}
	if cfg.Audit.StandardSampleSize != 100 {
		t.Errorf("unset fields should keep defaults, got standard=%d", cfg.Audit.StandardSampleSize)
	}
	if cfg.Inference.Backend != "grpc" {
		t.Errorf("expected grpc backend, got %s", cfg.Inference.Backend)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GUARDIAN_SERVER_LISTEN", "127.0.0.1:9999")
	t.Setenv("GUARDIAN_AUDIT_MATCH_THRESHOLD", "0.5")
	t.Setenv("GUARDIAN_SERVER_MAX_CONCURRENT_AUDITS", "4")
	t.Setenv("GUARDIAN_AUDIT_FUZZY_MATCHING", "false")
	t.Setenv("GUARDIAN_INFERENCE_TIMEOUT", "45s")

	cfg := Default()
	ApplyEnv(cfg)

	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("listen not overridden: %s", cfg.Server.Listen)
	}
	if cfg.Audit.MatchThreshold != 0.5 {
		t.Errorf("threshold not overridden: %v", cfg.Audit.MatchThreshold)
	}
	if cfg.Server.MaxConcurrentAudit != 4 {
		t.Errorf("max audits not overridden: %d", cfg.Server.MaxConcurrentAudit)
	}
	if cfg.Audit.FuzzyMatching {
		t.Error("fuzzy matching should be disabled")
	}
	if cfg.Inference.Timeout != 45*time.Second {
		t.Errorf("timeout not overridden: %v", cfg.Inference.Timeout)
	}
	if cfg.Models.BaseModel != "meta-llama/Llama-3.1-8B-Instruct" {
		t.Errorf("unset env should keep default, got %s", cfg.Models.BaseModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold too high", func(c *Config) { c.Audit.MatchThreshold = 1.5 }},
		{"zero sample size", func(c *Config) { c.Audit.DeepSampleSize = 0 }},
		{"zero capacity", func(c *Config) { c.Models.CacheCapacityMB = 0 }},
		{"unknown backend", func(c *Config) { c.Inference.Backend = "carrier-pigeon" }},
		{"no admission slots", func(c *Config) { c.Server.MaxConcurrentAudit = 0 }},
		{"missing master file", func(c *Config) { c.Fingerprints.MasterFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
