package models

import "time"

// AuditMode selects how many fingerprints an audit samples.
type AuditMode string

const (
	ModeQuick    AuditMode = "quick"
	ModeStandard AuditMode = "standard"
	ModeDeep     AuditMode = "deep"
)

// ParseAuditMode reports whether s names a known mode.
func ParseAuditMode(s string) (AuditMode, bool) {
	switch m := AuditMode(s); m {
	case ModeQuick, ModeStandard, ModeDeep:
		return m, true
	}
	return ModeStandard, false
}

// Verdict is the categorical outcome of an audit.
type Verdict string

const (
	VerdictMatch      Verdict = "MATCH"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictNoMatch    Verdict = "NO_MATCH"
	VerdictError      Verdict = "ERROR"
)

// AuditResult is the record produced by one audit run.
type AuditResult struct {
	ID               string    `json:"id"`
	Verdict          Verdict   `json:"verdict"`
	Confidence       float64   `json:"confidence"`
	Matches          int       `json:"matches"`
	TotalTested      int       `json:"total_tested"`
	Mode             AuditMode `json:"mode"`
	ModelIdentifier  string    `json:"model_path"`
	DurationSeconds  float64   `json:"duration_seconds"`
	Timestamp        time.Time `json:"timestamp"`
	Error            string    `json:"error,omitempty"`
	FingerprintSetID string    `json:"fingerprint_set_id,omitempty"`
	Probes           []Probe   `json:"-"`
}

// Probe is the outcome of a single challenge. The challenge itself is
// only kept as a hash.
type Probe struct {
	Seq        int     `json:"seq"`
	QueryHash  string  `json:"query_hash"`
	Matched    bool    `json:"matched"`
	Similarity float64 `json:"similarity"`
	Empty      bool    `json:"empty"`
	LatencyMs  int64   `json:"latency_ms"`
}

// AuditQueryOpts specifies filters for querying recorded audits.
type AuditQueryOpts struct {
	ID      string
	Model   string
	Verdict Verdict
	Since   time.Time
	Limit   int
}

// AuditStat holds audit counts for a model/day/verdict combination.
type AuditStat struct {
	Model   string  `json:"model"`
	Day     string  `json:"day"`
	Verdict Verdict `json:"verdict"`
	Count   int     `json:"count"`
}

// SelfVerification reports whether the reference model still answers its own fingerprints.
type SelfVerification struct {
	Verified         bool      `json:"verified"`
	FingerprintCount int       `json:"fingerprint_count"`
	Proofs           []Proof   `json:"proofs"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Proof is one challenge shown during self-verification, truncated for display.
type Proof struct {
	Query    string `json:"query"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Matched  bool   `json:"matched"`
}
