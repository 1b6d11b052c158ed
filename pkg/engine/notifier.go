package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// ProgressFunc receives human-readable status lines during an audit. It is
// called an unspecified number of times and must not block for long.
type ProgressFunc func(message string)

// Notifier is what a transport provides to follow an audit.
type Notifier interface {
	Progress(message string)
	Result(result models.AuditResult)
	Error(err error)
}

// Run audits id and reports through n. Failed audits produce an Error call
// followed by the Result carrying verdict ERROR.
func (e *Engine) Run(ctx context.Context, id string, mode models.AuditMode, n Notifier) models.AuditResult {
	res := e.AuditModel(ctx, id, mode, n.Progress)
	if res.Verdict == models.VerdictError {
		n.Error(errors.New(res.Error))
	}
	n.Result(res)
	return res
}

// Summary renders a short human-readable account of a result.
func Summary(r models.AuditResult) string {
	var headline string
	switch r.Verdict {
	case models.VerdictMatch:
		headline = fmt.Sprintf("FINGERPRINTS DETECTED (%.1f%% confidence)", r.Confidence)
	case models.VerdictNoMatch:
		headline = fmt.Sprintf("No fingerprints found (%.1f%% confidence)", r.Confidence)
	case models.VerdictSuspicious:
		headline = fmt.Sprintf("Uncertain (%.1f%% confidence)", r.Confidence)
	default:
		headline = "Audit failed: " + r.Error
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Audit of %s: %s\n", r.ModelIdentifier, headline)
	fmt.Fprintf(&b, "  Matches:  %d/%d\n", r.Matches, r.TotalTested)
	fmt.Fprintf(&b, "  Mode:     %s\n", r.Mode)
	fmt.Fprintf(&b, "  Duration: %.1fs\n", r.DurationSeconds)
	return b.String()
}
