package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UIDickinson/llm-identity/pkg/faults"
)

func TestResolveLocalPath(t *testing.T) {
	r, _ := testResolver(t)
	local := t.TempDir()

	target, err := r.Resolve(local, false)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, target.Source)
	assert.True(t, filepath.IsAbs(target.Path))
}

func TestResolveCacheDir(t *testing.T) {
	r, dir := testResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mistralai_Mistral-7B"), 0o755))

	target, err := r.Resolve("mistralai/Mistral-7B", false)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, target.Source)
	assert.Equal(t, "mistralai_Mistral-7B", filepath.Base(target.Path))
}

func TestResolveRemote(t *testing.T) {
	r, _ := testResolver(t)
	target, err := r.Resolve("org/model", false)
	require.NoError(t, err)
	assert.Equal(t, Target{Path: "org/model", Source: SourceRemote}, target)
}

func TestResolveMissingLocalPath(t *testing.T) {
	r, _ := testResolver(t)
	_, err := r.Resolve("./does/not/exist", false)
	assert.True(t, faults.IsKind(err, faults.KindResource))

	_, err = r.Resolve("  ", false)
	assert.True(t, faults.IsKind(err, faults.KindResource))
}

func TestResolveReference(t *testing.T) {
	r, dir := testResolver(t)

	target, err := r.Resolve("ignored", true)
	require.NoError(t, err)
	assert.Equal(t, Target{Path: "meta-llama/Llama-3.1-8B-Instruct", Source: SourceBase}, target)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "guardian_model"), 0o755))
	target, err = r.Resolve("ignored", true)
	require.NoError(t, err)
	assert.Equal(t, SourceReference, target.Source)
	assert.Equal(t, r.ReferencePath(), filepath.Join(dir, "guardian_model"))
}
