package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Digest returns a CIDv1 (raw, sha2-256) over the canonical JSON of the
// queries and responses. Metadata does not contribute, so two sets with the
// same challenges share an id.
func Digest(set *models.FingerprintSet) (string, error) {
	doc := struct {
		Queries   []string          `json:"queries"`
		Responses map[string]string `json:"responses"`
	}{set.Queries, set.Responses}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode digest input: %w", err)
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// HashChallenge returns the SHA-256 hex digest of a challenge, for records
// that must not hold the secret itself.
func HashChallenge(query string) string {
	h := sha256.Sum256([]byte(query))
	return hex.EncodeToString(h[:])
}
