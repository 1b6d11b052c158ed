package models

import "fmt"

// FingerprintVersion is the document version written by this build.
const FingerprintVersion = 1

// FingerprintSet is a confidential collection of challenge/response pairs.
// Queries keeps insertion order; Metadata is informational only.
type FingerprintSet struct {
	Version   int               `json:"version,omitempty"`
	Queries   []string          `json:"queries"`
	Responses map[string]string `json:"responses"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// EmptyFingerprintSet returns the set used when nothing is provisioned.
func EmptyFingerprintSet() *FingerprintSet {
	return &FingerprintSet{
		Version:   FingerprintVersion,
		Queries:   []string{},
		Responses: map[string]string{},
	}
}

// Len returns the number of queries. A nil set has zero.
func (s *FingerprintSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Queries)
}

// Response returns the expected response for a query.
func (s *FingerprintSet) Response(query string) (string, bool) {
	if s == nil || s.Responses == nil {
		return "", false
	}
	r, ok := s.Responses[query]
	return r, ok
}

// Validate checks that queries are unique and each one has a response.
func (s *FingerprintSet) Validate() error {
	if s == nil {
		return fmt.Errorf("fingerprint set is nil")
	}
	seen := make(map[string]struct{}, len(s.Queries))
	for i, q := range s.Queries {
		if _, dup := seen[q]; dup {
			return fmt.Errorf("duplicate query at index %d", i)
		}
		seen[q] = struct{}{}
		if _, ok := s.Responses[q]; !ok {
			return fmt.Errorf("query at index %d has no response", i)
		}
	}
	return nil
}

// SetupGuide describes how to embed fingerprints into a model with the external toolkit.
type SetupGuide struct {
	Steps []GuideStep `json:"steps"`
	Tips  []string    `json:"tips"`
}

// GuideStep is one numbered step of a SetupGuide.
type GuideStep struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Command     string `json:"command"`
	Description string `json:"description"`
}
