package fingerprint

import (
	"fmt"
	"sync"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Loader reads an encrypted fingerprint file.
type Loader interface {
	LoadEncrypted(path string) (*models.FingerprintSet, error)
}

// Repository exposes the master fingerprint set. The file is read at most once
// per process; an absent or unreadable file yields an empty set so an
// unprovisioned deployment still starts.
type Repository struct {
	loader Loader
	path   string

	once   sync.Once
	master *models.FingerprintSet
	id     string
	err    error
}

// NewRepository creates a Repository reading the master file at path.
func NewRepository(loader Loader, path string) *Repository {
	return &Repository{loader: loader, path: path}
}

// Master returns the memoized master set. The returned value is shared and
// must be treated as read-only.
func (r *Repository) Master() *models.FingerprintSet {
	r.once.Do(r.load)
	return r.master
}

// ID returns the content id of the master set, or "" when nothing is loaded.
func (r *Repository) ID() string {
	r.once.Do(r.load)
	return r.id
}

// LoadErr reports why the master set is empty, if it is.
func (r *Repository) LoadErr() error {
	r.once.Do(r.load)
	return r.err
}

func (r *Repository) load() {
	set, err := r.loader.LoadEncrypted(r.path)
	if err == nil {
		err = set.Validate()
		if err != nil {
			err = faults.Wrap(faults.KindInvalid, "load fingerprints", r.path, err)
		}
	}
	if err != nil {
		r.master = models.EmptyFingerprintSet()
		r.err = err
		if faults.IsKind(err, faults.KindNotFound) {
			log.Warn(fmt.Sprintf("Master fingerprints not found at %s; audits will report ERROR until provisioned", r.path))
		} else {
			log.Error(fmt.Sprintf("Failed to load master fingerprints from %s: %v", r.path, err))
		}
		return
	}

	r.master = set
	if id, derr := Digest(set); derr == nil {
		r.id = id
	}
	log.Info(fmt.Sprintf("Loaded %d master fingerprints (%s)", set.Len(), r.id))
}
