package modelcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// MetadataFile is the snapshot name written inside the model cache directory.
const MetadataFile = "cache_metadata.json"

// metadataWriter persists cache telemetry for operators. Payloads are never
// restored from it.
type metadataWriter struct {
	mu   sync.Mutex
	path string
}

func (m *metadataWriter) write(stats models.CacheStats) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		log.Warn(fmt.Sprintf("Encode cache metadata: %v", err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		log.Warn(fmt.Sprintf("Create cache metadata dir: %v", err))
		return
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn(fmt.Sprintf("Write cache metadata: %v", err))
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		log.Warn(fmt.Sprintf("Replace cache metadata: %v", err))
	}
}

// ReadMetadata loads the last snapshot written to path.
func ReadMetadata(path string) (models.CacheStats, error) {
	var stats models.CacheStats
	data, err := os.ReadFile(path)
	if err != nil {
		return stats, fmt.Errorf("read cache metadata: %w", err)
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("parse cache metadata: %w", err)
	}
	return stats, nil
}
