package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func colorVerdict(v models.Verdict) string {
	switch v {
	case models.VerdictMatch:
		return text.FgHiRed.Sprint(string(v))
	case models.VerdictSuspicious:
		return text.FgHiYellow.Sprint(string(v))
	case models.VerdictNoMatch:
		return text.FgHiGreen.Sprint(string(v))
	}
	return text.FgHiMagenta.Sprint(string(v))
}

func headline(r models.AuditResult) string {
	switch r.Verdict {
	case models.VerdictMatch:
		return text.Colors{text.Bold, text.FgHiRed}.Sprint("FINGERPRINTS DETECTED: this model appears to be derived from yours")
	case models.VerdictSuspicious:
		return text.Colors{text.Bold, text.FgHiYellow}.Sprint("UNCERTAIN: partial fingerprint matches, consider a deep audit")
	case models.VerdictNoMatch:
		return text.Colors{text.Bold, text.FgHiGreen}.Sprint("NO FINGERPRINTS: no evidence this model is derived from yours")
	}
	return text.Colors{text.Bold, text.FgHiMagenta}.Sprint("AUDIT FAILED: " + r.Error)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r models.AuditResult) {
	fmt.Fprintln(w, headline(r))
	t := newTable(w, table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Audit ID", r.ID},
		{"Model", r.ModelIdentifier},
		{"Mode", r.Mode},
		{"Verdict", colorVerdict(r.Verdict)},
		{"Confidence", fmt.Sprintf("%.1f%%", r.Confidence)},
		{"Matches", fmt.Sprintf("%d/%d", r.Matches, r.TotalTested)},
		{"Duration", fmt.Sprintf("%.1fs", r.DurationSeconds)},
		{"Fingerprint set", r.FingerprintSetID},
	})
	t.Render()
}

func printAudits(w io.Writer, audits []models.AuditResult) {
	if len(audits) == 0 {
		fmt.Fprintln(w, "No audits found.")
		return
	}
	t := newTable(w, table.Row{"ID", "Time", "Model", "Mode", "Verdict", "Confidence", "Matches", "Duration"})
	for _, a := range audits {
		t.AppendRow(table.Row{
			a.ID,
			a.Timestamp.Local().Format(timeLayout),
			a.ModelIdentifier,
			a.Mode,
			colorVerdict(a.Verdict),
			fmt.Sprintf("%.1f%%", a.Confidence),
			fmt.Sprintf("%d/%d", a.Matches, a.TotalTested),
			fmt.Sprintf("%.1fs", a.DurationSeconds),
		})
	}
	t.Render()
}

func printProbes(w io.Writer, probes []models.Probe) {
	if len(probes) == 0 {
		fmt.Fprintln(w, "No probes recorded for this audit.")
		return
	}
	t := newTable(w, table.Row{"#", "Challenge hash", "Matched", "Similarity", "Empty", "Latency"})
	for _, p := range probes {
		t.AppendRow(table.Row{
			p.Seq,
			p.QueryHash[:min(12, len(p.QueryHash))],
			p.Matched,
			fmt.Sprintf("%.2f", p.Similarity),
			p.Empty,
			fmt.Sprintf("%dms", p.LatencyMs),
		})
	}
	t.Render()
}

func printStats(w io.Writer, stats []models.AuditStat) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No audit stats found.")
		return
	}
	t := newTable(w, table.Row{"Model", "Day", "Verdict", "Count"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Model, s.Day, colorVerdict(s.Verdict), s.Count})
	}
	t.Render()
}

func printCacheStats(w io.Writer, s models.CacheStats) {
	fmt.Fprintf(w, "%d models resident, %.0f/%.0f MB\n", s.TotalItems, s.TotalSizeMB, s.CapacityMB)
	if len(s.Items) == 0 {
		return
	}
	t := newTable(w, table.Row{"Model", "Size MB", "Accesses", "Added", "Idle"})
	for _, it := range s.Items {
		t.AppendRow(table.Row{
			it.Key,
			fmt.Sprintf("%.0f", it.SizeMB),
			it.AccessCount,
			it.AddedAt.Local().Format(timeLayout),
			fmt.Sprintf("%.0fs", it.IdleSeconds),
		})
	}
	t.Render()
}

func printSelfVerification(w io.Writer, v models.SelfVerification) {
	if v.Verified {
		fmt.Fprintln(w, text.Colors{text.Bold, text.FgHiGreen}.Sprint("Reference model VERIFIED"))
	} else {
		fmt.Fprintln(w, text.Colors{text.Bold, text.FgHiRed}.Sprint("Reference model verification FAILED"))
	}
	if v.Error != "" {
		fmt.Fprintln(w, v.Error)
		return
	}
	fmt.Fprintf(w, "%d master fingerprints available\n", v.FingerprintCount)
	t := newTable(w, table.Row{"Query", "Expected", "Actual", "Match"})
	for _, p := range v.Proofs {
		mark := text.FgHiRed.Sprint("no")
		if p.Matched {
			mark = text.FgHiGreen.Sprint("yes")
		}
		t.AppendRow(table.Row{p.Query, p.Expected, p.Actual, mark})
	}
	t.Render()
}

func printGuide(w io.Writer, g models.SetupGuide) {
	for _, s := range g.Steps {
		fmt.Fprintf(w, "%s %s\n", text.FgHiBlue.Sprintf("%d.", s.Number), text.Bold.Sprint(s.Title))
		fmt.Fprintf(w, "   %s\n", s.Description)
		if s.Command != "" {
			fmt.Fprintf(w, "   %s\n", text.FgHiCyan.Sprint("$ "+s.Command))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, text.Bold.Sprint("Tips:"))
	for _, tip := range g.Tips {
		fmt.Fprintf(w, "  - %s\n", tip)
	}
}
