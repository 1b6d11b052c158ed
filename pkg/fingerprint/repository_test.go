package fingerprint

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	set   *models.FingerprintSet
	err   error
}

func (l *countingLoader) LoadEncrypted(string) (*models.FingerprintSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.set, l.err
}

func TestRepositoryMemoizes(t *testing.T) {
	loader := &countingLoader{set: sampleSet()}
	repo := NewRepository(loader, "master.enc")

	var wg sync.WaitGroup
	results := make([]*models.FingerprintSet, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.Master()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, loader.calls)
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 2, repo.Master().Len())
	assert.NotEmpty(t, repo.ID())
	assert.NoError(t, repo.LoadErr())
}

func TestRepositoryAbsentFileDegrades(t *testing.T) {
	store, err := NewStore("k")
	require.NoError(t, err)
	repo := NewRepository(store, filepath.Join(t.TempDir(), "missing.enc"))

	master := repo.Master()
	require.NotNil(t, master)
	assert.Equal(t, 0, master.Len())
	assert.NotNil(t, master.Responses)
	assert.Empty(t, repo.ID())
	assert.True(t, faults.IsKind(repo.LoadErr(), faults.KindNotFound))
}

func TestRepositoryLoadFailureDegrades(t *testing.T) {
	loader := &countingLoader{err: faults.Wrap(faults.KindDecryption, "open", "bad key", errors.New("auth"))}
	repo := NewRepository(loader, "master.enc")

	assert.Equal(t, 0, repo.Master().Len())
	assert.Equal(t, 0, repo.Master().Len())
	assert.Equal(t, 1, loader.calls, "failures are memoized too")
	assert.True(t, faults.IsKind(repo.LoadErr(), faults.KindDecryption))
}

func TestRepositoryRejectsInvalidSet(t *testing.T) {
	loader := &countingLoader{set: &models.FingerprintSet{
		Queries:   []string{"a", "b"},
		Responses: map[string]string{"a": "x"},
	}}
	repo := NewRepository(loader, "master.enc")

	assert.Equal(t, 0, repo.Master().Len())
	assert.True(t, faults.IsKind(repo.LoadErr(), faults.KindInvalid))
}

func TestRepositoryReadsStoreFile(t *testing.T) {
	store, err := NewStore("k")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "master.enc")
	require.NoError(t, store.SaveEncrypted(sampleSet(), path))

	repo := NewRepository(store, path)
	assert.Equal(t, sampleSet().Queries, repo.Master().Queries)

	want, err := Digest(sampleSet())
	require.NoError(t, err)
	assert.Equal(t, want, repo.ID())
}
