package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all Guardian configuration.
type Config struct {
	Log          LogConfig         `yaml:"log"`
	Fingerprints FingerprintConfig `yaml:"fingerprints"`
	Audit        AuditConfig       `yaml:"audit"`
	Models       ModelsConfig      `yaml:"models"`
	Inference    InferenceConfig   `yaml:"inference"`
	Server       ServerConfig      `yaml:"server"`
	History      HistoryConfig     `yaml:"history"`
	Toolkit      ToolkitConfig     `yaml:"toolkit"`
}

// LogConfig controls process logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// FingerprintConfig locates and protects the master fingerprint file.
// EncryptionKey is either a base64url 32-byte key or a passphrase that is
// padded to key length. The passphrase form is a convenience, not a KDF.
type FingerprintConfig struct {
	Dir           string `yaml:"dir"`
	MasterFile    string `yaml:"master_file"`
	EncryptionKey string `yaml:"encryption_key"`
}

// MasterPath returns the full path to the master fingerprint file.
func (f FingerprintConfig) MasterPath() string {
	return filepath.Join(f.Dir, f.MasterFile)
}

// AuditConfig controls sampling and scoring.
type AuditConfig struct {
	QuickSampleSize    int     `yaml:"quick_sample_size"`
	StandardSampleSize int     `yaml:"standard_sample_size"`
	DeepSampleSize     int     `yaml:"deep_sample_size"`
	MatchThreshold     float64 `yaml:"match_threshold"`
	FuzzyMatching      bool    `yaml:"fuzzy_matching"`
	SelfVerifySamples  int     `yaml:"self_verify_samples"`
	ProgressInterval   int     `yaml:"progress_interval"`
}

// ModelsConfig controls model resolution and the resident model cache.
type ModelsConfig struct {
	BaseModel       string  `yaml:"base_model"`
	CacheDir        string  `yaml:"cache_dir"`
	ReferenceDir    string  `yaml:"reference_dir"`
	CacheCapacityMB float64 `yaml:"cache_capacity_mb"`
	PersistMetadata bool    `yaml:"persist_metadata"`
}

// InferenceConfig selects and tunes the inference backend.
// Backend is "http" (default) or "grpc".
type InferenceConfig struct {
	Backend         string              `yaml:"backend"`
	URL             string              `yaml:"url"`
	APIKey          string              `yaml:"api_key"`
	Timeout         time.Duration       `yaml:"timeout"`
	MaxNewTokens    int                 `yaml:"max_new_tokens"`
	MaxPromptTokens int                 `yaml:"max_prompt_tokens"`
	ResponseCache   ResponseCacheConfig `yaml:"response_cache"`
}

// ResponseCacheConfig controls the on-disk inference response cache.
type ResponseCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	DBPath  string        `yaml:"db_path"`
	TTL     time.Duration `yaml:"ttl"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen             string   `yaml:"listen"`
	MaxConcurrentAudit int      `yaml:"max_concurrent_audits"`
	CORSOrigins        []string `yaml:"cors_origins"`
}

// HistoryConfig controls the persisted audit history.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	RecordProbes  bool   `yaml:"record_probes"`
}

// ToolkitConfig locates the external fingerprinting toolkit.
type ToolkitConfig struct {
	Dir       string `yaml:"dir"`
	Python    string `yaml:"python"`
	DeepSpeed string `yaml:"deepspeed"`
	NumGPUs   int    `yaml:"num_gpus"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Fingerprints: FingerprintConfig{
			Dir:           "./data/fingerprints",
			MasterFile:    "guardian_master_fingerprints.enc",
			EncryptionKey: "default-key-change-this",
		},
		Audit: AuditConfig{
			QuickSampleSize:    50,
			StandardSampleSize: 100,
			DeepSampleSize:     500,
			MatchThreshold:     0.85,
			FuzzyMatching:      true,
			SelfVerifySamples:  3,
			ProgressInterval:   10,
		},
		Models: ModelsConfig{
			BaseModel:       "meta-llama/Llama-3.1-8B-Instruct",
			CacheDir:        "./data/models",
			ReferenceDir:    "guardian_model",
			CacheCapacityMB: 50 * 1024,
			PersistMetadata: true,
		},
		Inference: InferenceConfig{
			Backend:         "http",
			URL:             "http://127.0.0.1:8081",
			Timeout:         2 * time.Minute,
			MaxNewTokens:    100,
			MaxPromptTokens: 512,
			ResponseCache: ResponseCacheConfig{
				Enabled: false,
				DBPath:  "./data/responses.db",
				TTL:     24 * time.Hour,
			},
		},
		Server: ServerConfig{
			Listen:             "0.0.0.0:8000",
			MaxConcurrentAudit: 2,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "./data/history.db",
			RetentionDays: 90,
			RecordProbes:  true,
		},
		Toolkit: ToolkitConfig{
			Dir:       "../oml-fingerprinting",
			Python:    "python",
			DeepSpeed: "deepspeed",
			NumGPUs:   1,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when non-empty, applies GUARDIAN_* environment
// overrides and validates the result.
func LoadOrDefault(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"log.level":                    "GUARDIAN_LOG_LEVEL",
	"fingerprints.dir":             "GUARDIAN_FINGERPRINTS_DIR",
	"fingerprints.master_file":     "GUARDIAN_FINGERPRINTS_MASTER_FILE",
	"fingerprints.encryption_key":  "GUARDIAN_FINGERPRINTS_ENCRYPTION_KEY",
	"audit.match_threshold":        "GUARDIAN_AUDIT_MATCH_THRESHOLD",
	"audit.fuzzy_matching":         "GUARDIAN_AUDIT_FUZZY_MATCHING",
	"models.base_model":            "GUARDIAN_MODELS_BASE_MODEL",
	"models.cache_dir":             "GUARDIAN_MODELS_CACHE_DIR",
	"models.cache_capacity_mb":     "GUARDIAN_MODELS_CACHE_CAPACITY_MB",
	"inference.backend":            "GUARDIAN_INFERENCE_BACKEND",
	"inference.url":                "GUARDIAN_INFERENCE_URL",
	"inference.api_key":            "GUARDIAN_INFERENCE_API_KEY",
	"inference.timeout":            "GUARDIAN_INFERENCE_TIMEOUT",
	"server.listen":                "GUARDIAN_SERVER_LISTEN",
	"server.max_concurrent_audits": "GUARDIAN_SERVER_MAX_CONCURRENT_AUDITS",
	"history.enabled":              "GUARDIAN_HISTORY_ENABLED",
	"history.db_path":              "GUARDIAN_HISTORY_DB_PATH",
	"toolkit.dir":                  "GUARDIAN_TOOLKIT_DIR",
}

// ApplyEnv overrides cfg with any GUARDIAN_* environment variables that are set.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("log.level", &cfg.Log.Level)
	str("fingerprints.dir", &cfg.Fingerprints.Dir)
	str("fingerprints.master_file", &cfg.Fingerprints.MasterFile)
	str("fingerprints.encryption_key", &cfg.Fingerprints.EncryptionKey)
	str("models.base_model", &cfg.Models.BaseModel)
	str("models.cache_dir", &cfg.Models.CacheDir)
	str("inference.backend", &cfg.Inference.Backend)
	str("inference.url", &cfg.Inference.URL)
	str("inference.api_key", &cfg.Inference.APIKey)
	str("server.listen", &cfg.Server.Listen)
	str("history.db_path", &cfg.History.DBPath)
	str("toolkit.dir", &cfg.Toolkit.Dir)

	if v.IsSet("audit.match_threshold") {
		cfg.Audit.MatchThreshold = v.GetFloat64("audit.match_threshold")
	}
	if v.IsSet("audit.fuzzy_matching") {
		cfg.Audit.FuzzyMatching = v.GetBool("audit.fuzzy_matching")
	}
	if v.IsSet("models.cache_capacity_mb") {
		cfg.Models.CacheCapacityMB = v.GetFloat64("models.cache_capacity_mb")
	}
	if v.IsSet("inference.timeout") {
		cfg.Inference.Timeout = v.GetDuration("inference.timeout")
	}
	if v.IsSet("server.max_concurrent_audits") {
		cfg.Server.MaxConcurrentAudit = v.GetInt("server.max_concurrent_audits")
	}
	if v.IsSet("history.enabled") {
		cfg.History.Enabled = v.GetBool("history.enabled")
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Fingerprints.MasterFile == "" {
		return fmt.Errorf("fingerprints.master_file is required")
	}
	if c.Audit.MatchThreshold < 0 || c.Audit.MatchThreshold > 1 {
		return fmt.Errorf("audit.match_threshold must be within [0,1], got %v", c.Audit.MatchThreshold)
	}
	if c.Audit.QuickSampleSize <= 0 || c.Audit.StandardSampleSize <= 0 || c.Audit.DeepSampleSize <= 0 {
		return fmt.Errorf("audit sample sizes must be positive")
	}
	if c.Models.CacheCapacityMB <= 0 {
		return fmt.Errorf("models.cache_capacity_mb must be positive")
	}
	switch c.Inference.Backend {
	case "http", "grpc":
	default:
		return fmt.Errorf("inference.backend must be http or grpc, got %q", c.Inference.Backend)
	}
	if c.Server.MaxConcurrentAudit <= 0 {
		return fmt.Errorf("server.max_concurrent_audits must be positive")
	}
	return nil
}
