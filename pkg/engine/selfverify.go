package engine

import (
	"context"
	"fmt"

	"github.com/jfrog/jfrog-client-go/utils/log"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

const proofDisplayLen = 50

// referenceKey is the cache key of the operator's own model.
func (e *Engine) referenceKey() models.ModelKey {
	return models.ModelKey{ID: e.cfg.ReferenceModel, Reference: true}
}

// QueryReferenceModel runs challenge against the reference model, loading it
// on first use. The reference model stays resident until the cache evicts it.
// Failures yield "".
func (e *Engine) QueryReferenceModel(ctx context.Context, challenge string) string {
	out, err := e.queryReference(ctx, challenge)
	if err != nil {
		log.Error(fmt.Sprintf("Reference query failed: %v", err))
	}
	return out
}

func (e *Engine) queryReference(ctx context.Context, challenge string) (string, error) {
	h, err := e.load(ctx, e.referenceKey())
	if err != nil {
		return "", err
	}
	return e.adapter.Query(ctx, h, challenge), nil
}

// SelfVerify checks that the reference model still answers a few master
// fingerprints. It proves the fingerprints are embedded without revealing
// the whole set.
func (e *Engine) SelfVerify(ctx context.Context) models.SelfVerification {
	out := models.SelfVerification{Timestamp: e.now().UTC(), Proofs: []models.Proof{}}

	master := e.source.Master()
	if master.Len() == 0 {
		out.Error = "no master fingerprints available"
		return out
	}

	queries := e.sample(master, e.cfg.SelfVerifySamples)
	out.FingerprintCount = len(queries)
	verified := true
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			out.Error = fmt.Sprintf("self-verification cancelled: %v", err)
			out.Verified = false
			return out
		}
		actual, err := e.queryReference(ctx, q)
		if err != nil {
			log.Error(fmt.Sprintf("Self-verification failed: %v", err))
			out.Error = err.Error()
			out.Verified = false
			return out
		}
		expected, _ := master.Response(q)
		ok := e.policy.Matches(expected, actual)
		verified = verified && ok
		out.Proofs = append(out.Proofs, models.Proof{
			Query:    clip(q),
			Expected: clip(expected),
			Actual:   clip(actual),
			Matched:  ok,
		})
	}
	out.Verified = verified && len(queries) > 0
	log.Info(fmt.Sprintf("Self-verification: verified=%t (%d proofs)", out.Verified, len(out.Proofs)))
	return out
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= proofDisplayLen {
		return s
	}
	return string(r[:proofDisplayLen]) + "..."
}
