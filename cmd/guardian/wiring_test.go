package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/modelcache"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

func TestCacheStatsReadsServerSnapshot(t *testing.T) {
	cfg := config.Default()
	cfg.Models.CacheDir = t.TempDir()

	c := modelcache.New(modelcache.Options{CapacityMB: 100, MetadataPath: metadataPath(cfg)})
	c.Put(models.ModelKey{ID: "org/model"}, "handle", 10)

	assert.Equal(t, filepath.Join(cfg.Models.CacheDir, "cache_metadata.json"), metadataPath(cfg))
	stats, err := modelcache.ReadMetadata(metadataPath(cfg))
	require.NoError(t, err)
	require.Len(t, stats.Items, 1)
	assert.Equal(t, "org/model_false", stats.Items[0].Key)
}
