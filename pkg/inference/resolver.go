package inference

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/faults"
)

// Source records where a model identifier resolved to.
type Source string

const (
	SourceLocal     Source = "local"
	SourceCache     Source = "cache"
	SourceRemote    Source = "remote"
	SourceReference Source = "reference"
	SourceBase      Source = "base"
)

// Target is a resolved model location.
type Target struct {
	Path   string
	Source Source
}

// Resolver maps model identifiers to locations. Non-reference identifiers are
// tried as a local path, then under the model cache directory, then passed
// through as a remote repository id. Reference lookups go to a fixed directory
// and fall back to the base model when it has not been provisioned.
type Resolver struct {
	cacheDir     string
	referenceDir string
	baseModel    string
}

// NewResolver creates a Resolver from model configuration.
func NewResolver(cfg config.ModelsConfig) *Resolver {
	return &Resolver{
		cacheDir:     cfg.CacheDir,
		referenceDir: cfg.ReferenceDir,
		baseModel:    cfg.BaseModel,
	}
}

// ReferencePath is where the provisioned reference model lives.
func (r *Resolver) ReferencePath() string {
	return filepath.Join(r.cacheDir, r.referenceDir)
}

// BaseModel is the identifier used for the reference model until one is provisioned.
func (r *Resolver) BaseModel() string { return r.baseModel }

// Resolve returns the location to load for id.
func (r *Resolver) Resolve(id string, reference bool) (Target, error) {
	if reference {
		ref := r.ReferencePath()
		if isDir(ref) {
			return Target{Path: absPath(ref), Source: SourceReference}, nil
		}
		log.Warn(fmt.Sprintf("Reference model not found at %s; using base model %s", ref, r.baseModel))
		t, err := r.Resolve(r.baseModel, false)
		if err != nil {
			return Target{}, err
		}
		if t.Source == SourceRemote {
			t.Source = SourceBase
		}
		return t, nil
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, faults.New(faults.KindResource, "resolve model", "empty model identifier")
	}
	if exists(id) {
		return Target{Path: absPath(id), Source: SourceLocal}, nil
	}
	if r.cacheDir != "" {
		cached := filepath.Join(r.cacheDir, strings.ReplaceAll(id, "/", "_"))
		if exists(cached) {
			return Target{Path: absPath(cached), Source: SourceCache}, nil
		}
	}
	if filepath.IsAbs(id) || strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") {
		return Target{}, faults.New(faults.KindResource, "resolve model", fmt.Sprintf("local path %s does not exist", id))
	}
	return Target{Path: id, Source: SourceRemote}, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// DefaultSizeMB is assumed when neither the backend nor the disk says how big a model is.
const DefaultSizeMB = 16 * 1024

var weightExts = map[string]bool{
	".safetensors": true,
	".bin":         true,
	".gguf":        true,
	".pt":          true,
	".pth":         true,
}

func estimateSizeMB(t Target) float64 {
	if t.Source == SourceRemote || t.Source == SourceBase {
		return DefaultSizeMB
	}
	var total int64
	_ = filepath.WalkDir(t.Path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !weightExts[filepath.Ext(d.Name())] {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	if total == 0 {
		return DefaultSizeMB
	}
	return float64(total) / (1024 * 1024)
}
