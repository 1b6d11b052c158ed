// Package fingerprint stores, loads, and generates the confidential
// challenge/response sets used to audit models.
package fingerprint

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

// KeySize is the symmetric key length in bytes.
const KeySize = chacha20poly1305.KeySize

var associatedData = []byte("guardian/fingerprints")

// Store encrypts fingerprint sets at rest with XChaCha20-Poly1305.
// A file is the random nonce followed by the sealed JSON document.
type Store struct {
	aead cipher.AEAD
}

// NewStore builds a Store from a configured key string. See DeriveKey.
func NewStore(key string) (*Store, error) {
	aead, err := chacha20poly1305.NewX(DeriveKey(key))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Store{aead: aead}, nil
}

// DeriveKey turns a configured key string into key material.
//
// A base64url encoding of exactly KeySize bytes is used as-is. Anything else
// is padded with spaces or truncated to KeySize bytes. That fallback has no
// salt and no work factor; it exists so a passphrase in a config file works
// at all, and is not a substitute for a key from GenerateKey.
func DeriveKey(key string) []byte {
	if raw, err := base64.URLEncoding.DecodeString(key); err == nil && len(raw) == KeySize {
		return raw
	}
	out := make([]byte, KeySize)
	n := copy(out, key)
	for i := n; i < KeySize; i++ {
		out[i] = ' '
	}
	return out
}

// GenerateKey returns a random base64url-encoded key suitable for config.
func GenerateKey() (string, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(k), nil
}

// Seal encodes and encrypts a set.
func (s *Store) Seal(set *models.FingerprintSet) ([]byte, error) {
	if set == nil {
		return nil, faults.New(faults.KindInvalid, "seal fingerprints", "nil set")
	}
	doc := *set
	if doc.Version == 0 {
		doc.Version = models.FingerprintVersion
	}
	if doc.Queries == nil {
		doc.Queries = []string{}
	}
	if doc.Responses == nil {
		doc.Responses = map[string]string{}
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode fingerprints: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plain, associatedData), nil
}

// Open decrypts and decodes a blob produced by Seal.
func (s *Store) Open(blob []byte) (*models.FingerprintSet, error) {
	ns := s.aead.NonceSize()
	if len(blob) < ns+s.aead.Overhead() {
		return nil, faults.New(faults.KindDecryption, "open fingerprints", "ciphertext truncated")
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], associatedData)
	if err != nil {
		return nil, faults.Wrap(faults.KindDecryption, "open fingerprints", "wrong key or corrupt file", err)
	}

	var set models.FingerprintSet
	if err := json.Unmarshal(plain, &set); err != nil {
		return nil, faults.Wrap(faults.KindInvalid, "decode fingerprints", "malformed document", err)
	}
	if set.Version == 0 {
		set.Version = models.FingerprintVersion
	}
	if set.Version > models.FingerprintVersion {
		return nil, faults.New(faults.KindInvalid, "decode fingerprints",
			fmt.Sprintf("unsupported version %d (max %d)", set.Version, models.FingerprintVersion))
	}
	if set.Queries == nil {
		set.Queries = []string{}
	}
	if set.Responses == nil {
		set.Responses = map[string]string{}
	}
	return &set, nil
}

// SaveEncrypted seals set and atomically replaces the file at path,
// creating parent directories as needed.
func (s *Store) SaveEncrypted(set *models.FingerprintSet, path string) error {
	blob, err := s.Seal(set)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, blob, 0o600); err != nil {
		return fmt.Errorf("write fingerprints: %w", err)
	}
	return nil
}

// LoadEncrypted reads and opens the file at path.
func (s *Store) LoadEncrypted(path string) (*models.FingerprintSet, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.Wrap(faults.KindNotFound, "load fingerprints", path, err)
		}
		return nil, fmt.Errorf("read fingerprints: %w", err)
	}
	return s.Open(blob)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	ok = true
	return nil
}
