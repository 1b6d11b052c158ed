package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/admission"
	cachepkg "github.com/UIDickinson/llm-identity/pkg/cache/sqlite"
	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/engine"
	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/history"
	"github.com/UIDickinson/llm-identity/pkg/inference"
	"github.com/UIDickinson/llm-identity/pkg/logging"
	"github.com/UIDickinson/llm-identity/pkg/match"
	"github.com/UIDickinson/llm-identity/pkg/modelcache"
)

// loadConfig reads configuration and installs the logger. Logs go to stderr
// so stdout stays clean for command output and the MCP stream.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, os.Stderr); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, nil
}

// openStore builds the encrypted fingerprint store from config.
func openStore(cfg *config.Config) (*fingerprint.Store, error) {
	store, err := fingerprint.NewStore(cfg.Fingerprints.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("init fingerprint store: %w", err)
	}
	return store, nil
}

// openHistory opens the audit history database, or returns nil when
// history is disabled.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	h, err := history.Open(cfg.History)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	return h, nil
}

func metadataPath(cfg *config.Config) string {
	return filepath.Join(cfg.Models.CacheDir, modelcache.MetadataFile)
}

// app holds everything an audit needs. Close releases it in reverse order.
type app struct {
	cfg          *config.Config
	fingerprints *fingerprint.Repository
	backend      inference.Backend
	responses    *cachepkg.Cache
	client       *inference.Client
	cache        *modelcache.Cache
	engine       *engine.Engine
	history      *history.Store
	limiter      *admission.Limiter
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, limiter: admission.New(cfg.Server.MaxConcurrentAudit)}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.fingerprints = fingerprint.NewRepository(store, cfg.Fingerprints.MasterPath())

	switch cfg.Inference.Backend {
	case "grpc":
		a.backend, err = inference.DialGRPC(cfg.Inference.URL, cfg.Inference.Timeout)
	default:
		a.backend, err = inference.NewHTTPBackend(cfg.Inference.URL, cfg.Inference.APIKey, cfg.Inference.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("init inference backend: %w", err)
	}
	log.Debug(fmt.Sprintf("Inference backend %q at %s", cfg.Inference.Backend, cfg.Inference.URL))

	opts := inference.Options{
		MaxNewTokens:    cfg.Inference.MaxNewTokens,
		MaxPromptTokens: cfg.Inference.MaxPromptTokens,
	}
	if cfg.Inference.ResponseCache.Enabled {
		rc := cfg.Inference.ResponseCache
		if err := os.MkdirAll(filepath.Dir(rc.DBPath), 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create response cache dir: %w", err)
		}
		a.responses, err = cachepkg.New(rc.DBPath, rc.TTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init response cache: %w", err)
		}
		opts.Responses = a.responses
		opts.HashPrompt = cachepkg.HashPrompt
	}
	a.client = inference.NewClient(a.backend, inference.NewResolver(cfg.Models), opts)

	cacheOpts := modelcache.Options{
		CapacityMB: cfg.Models.CacheCapacityMB,
		OnRelease:  engine.ReleaseWith(a.client),
	}
	if cfg.Models.PersistMetadata {
		if err := os.MkdirAll(cfg.Models.CacheDir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create model cache dir: %w", err)
		}
		cacheOpts.MetadataPath = metadataPath(cfg)
	}
	a.cache = modelcache.New(cacheOpts)

	policy := match.Policy{Threshold: cfg.Audit.MatchThreshold, Fuzzy: cfg.Audit.FuzzyMatching}
	a.engine = engine.New(engine.ConfigFrom(cfg), a.cache, a.client, a.fingerprints, policy)

	a.history, err = openHistory(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close unloads resident models and closes every store.
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Clear()
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	if a.responses != nil {
		_ = a.responses.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
}
