// Package match scores a model response against an expected fingerprint response.
package match

import "strings"

// DefaultThreshold is the minimum token overlap for a fuzzy match.
const DefaultThreshold = 0.85

// Policy decides whether a single challenge passed.
type Policy struct {
	Threshold float64
	Fuzzy     bool
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{Threshold: DefaultThreshold, Fuzzy: true}
}

// Matches applies the policy to one expected/actual pair.
func (p Policy) Matches(expected, actual string) bool {
	return Matches(expected, actual, p.Threshold, p.Fuzzy)
}

// Matches reports whether actual passes for expected.
//
// Identical strings always match. Otherwise, with fuzzy matching enabled,
// the fraction of distinct lower-cased expected tokens that also appear in
// actual must reach threshold. The score is normalized by the expected set
// only, so a longer answer that keeps the expected words still passes.
func Matches(expected, actual string, threshold float64, fuzzy bool) bool {
	if expected == actual {
		return true
	}
	if !fuzzy {
		return false
	}
	exp := tokenSet(expected)
	if len(exp) == 0 {
		return false
	}
	return overlap(exp, tokenSet(actual)) >= threshold
}

// Similarity returns |E ∩ A| / |E| over distinct lower-cased tokens, or 0
// when expected has no tokens.
func Similarity(expected, actual string) float64 {
	exp := tokenSet(expected)
	if len(exp) == 0 {
		return 0
	}
	return overlap(exp, tokenSet(actual))
}

func overlap(exp, act map[string]struct{}) float64 {
	common := 0
	for tok := range exp {
		if _, ok := act[tok]; ok {
			common++
		}
	}
	return float64(common) / float64(len(exp))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
