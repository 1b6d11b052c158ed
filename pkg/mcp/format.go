package mcp

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

// formatAudits formats recorded audits as a text table.
func formatAudits(audits []models.AuditResult) string {
	if len(audits) == 0 {
		return "No audits found."
	}
	t := newTable(table.Row{"Time", "Model", "Mode", "Verdict", "Confidence", "Matches", "Duration"})
	for _, a := range audits {
		t.AppendRow(table.Row{
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.ModelIdentifier,
			a.Mode,
			a.Verdict,
			fmt.Sprintf("%.1f%%", a.Confidence),
			fmt.Sprintf("%d/%d", a.Matches, a.TotalTested),
			fmt.Sprintf("%.1fs", a.DurationSeconds),
		})
	}
	return t.Render()
}

// formatSelfVerification lists each proof of a self-verification run.
func formatSelfVerification(v models.SelfVerification) string {
	var b strings.Builder
	status := "FAILED"
	if v.Verified {
		status = "VERIFIED"
	}
	fmt.Fprintf(&b, "Reference model %s (%d master fingerprints)\n\n", status, v.FingerprintCount)

	t := newTable(table.Row{"Query", "Expected", "Actual", "Match"})
	for _, p := range v.Proofs {
		match := "no"
		if p.Matched {
			match = "yes"
		}
		t.AppendRow(table.Row{p.Query, p.Expected, p.Actual, match})
	}
	b.WriteString(t.Render())
	return b.String()
}

// formatCacheStats formats model cache residency as a text table.
func formatCacheStats(s models.CacheStats) string {
	if s.TotalItems == 0 {
		return fmt.Sprintf("Model cache is empty (capacity %.0f MB).", s.CapacityMB)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d models resident, %.0f/%.0f MB\n\n", s.TotalItems, s.TotalSizeMB, s.CapacityMB)

	t := newTable(table.Row{"Model", "Size MB", "Accesses", "Age", "Idle"})
	for _, it := range s.Items {
		t.AppendRow(table.Row{
			it.Key,
			fmt.Sprintf("%.0f", it.SizeMB),
			it.AccessCount,
			fmt.Sprintf("%.0fs", it.AgeSeconds),
			fmt.Sprintf("%.0fs", it.IdleSeconds),
		})
	}
	b.WriteString(t.Render())
	return b.String()
}

// formatGuide renders the setup guide as numbered steps.
func formatGuide(g models.SetupGuide) string {
	var b strings.Builder
	for _, s := range g.Steps {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", s.Number, s.Title, s.Description)
		if s.Command != "" {
			fmt.Fprintf(&b, "   $ %s\n", s.Command)
		}
		b.WriteString("\n")
	}
	if len(g.Tips) > 0 {
		b.WriteString("Tips:\n")
		for _, tip := range g.Tips {
			fmt.Fprintf(&b, "  - %s\n", tip)
		}
	}
	return b.String()
}
