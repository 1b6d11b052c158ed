package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

func tempCfg(t *testing.T) config.HistoryConfig {
	t.Helper()
	return config.HistoryConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "history_test.db"),
		RetentionDays: 90,
		RecordProbes:  true,
	}
}

func mustOpen(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(id, model string, verdict models.Verdict, ts time.Time) models.AuditResult {
	return models.AuditResult{
		ID:               id,
		Verdict:          verdict,
		Confidence:       88,
		Matches:          44,
		TotalTested:      50,
		Mode:             models.ModeQuick,
		ModelIdentifier:  model,
		DurationSeconds:  12.5,
		Timestamp:        ts,
		FingerprintSetID: "bafkrei-test",
		Probes: []models.Probe{
			{Seq: 0, QueryHash: "aa", Matched: true, Similarity: 1, LatencyMs: 20},
			{Seq: 1, QueryHash: "bb", Matched: false, Empty: true, LatencyMs: 15},
		},
	}
}

func TestRecordAndQuery(t *testing.T) {
	s := mustOpen(t, tempCfg(t))
	ctx := context.Background()

	if err := s.Record(ctx, sampleResult("a-1", "org/model", models.VerdictMatch, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Query(ctx, models.AuditQueryOpts{Model: "org/model"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 audit, got %d", len(got))
	}
	r := got[0]
	if r.ID != "a-1" || r.Verdict != models.VerdictMatch || r.Matches != 44 || r.Mode != models.ModeQuick {
		t.Errorf("unexpected audit: %+v", r)
	}
	if r.FingerprintSetID != "bafkrei-test" {
		t.Errorf("expected set id to roundtrip, got %q", r.FingerprintSetID)
	}
	if r.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestRecordProbes(t *testing.T) {
	s := mustOpen(t, tempCfg(t))
	ctx := context.Background()

	if err := s.Record(ctx, sampleResult("a-1", "org/model", models.VerdictMatch, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	probes, err := s.Probes(ctx, "a-1")
	if err != nil {
		t.Fatalf("Probes: %v", err)
	}
	if len(probes) != 2 {
		t.Fatalf("expected 2 probes, got %d", len(probes))
	}
	if !probes[0].Matched || probes[0].QueryHash != "aa" {
		t.Errorf("unexpected first probe: %+v", probes[0])
	}
	if !probes[1].Empty {
		t.Errorf("expected second probe to be empty: %+v", probes[1])
	}

	// Re-recording the same audit replaces its probes.
	if err := s.Record(ctx, sampleResult("a-1", "org/model", models.VerdictMatch, time.Now())); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	probes, _ = s.Probes(ctx, "a-1")
	if len(probes) != 2 {
		t.Errorf("expected 2 probes after replace, got %d", len(probes))
	}
}

func TestProbesNotRecordedWhenDisabled(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RecordProbes = false
	s := mustOpen(t, cfg)
	ctx := context.Background()

	if err := s.Record(ctx, sampleResult("a-1", "org/model", models.VerdictMatch, time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	probes, err := s.Probes(ctx, "a-1")
	if err != nil {
		t.Fatalf("Probes: %v", err)
	}
	if len(probes) != 0 {
		t.Errorf("expected no probes, got %d", len(probes))
	}
}

func TestQueryFilters(t *testing.T) {
	s := mustOpen(t, tempCfg(t))
	ctx := context.Background()
	now := time.Now()

	for _, r := range []models.AuditResult{
		sampleResult("a-1", "org/one", models.VerdictMatch, now.Add(-3*time.Hour)),
		sampleResult("a-2", "org/one", models.VerdictNoMatch, now.Add(-2*time.Hour)),
		sampleResult("a-3", "org/two", models.VerdictMatch, now.Add(-time.Hour)),
	} {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, _ := s.Query(ctx, models.AuditQueryOpts{ID: "a-2"})
	if len(got) != 1 || got[0].ID != "a-2" {
		t.Errorf("ID filter: %+v", got)
	}

	got, _ = s.Query(ctx, models.AuditQueryOpts{Verdict: models.VerdictMatch})
	if len(got) != 2 {
		t.Errorf("verdict filter: expected 2, got %d", len(got))
	}
	if got[0].ID != "a-3" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}

	got, _ = s.Query(ctx, models.AuditQueryOpts{Since: now.Add(-90 * time.Minute)})
	if len(got) != 1 || got[0].ID != "a-3" {
		t.Errorf("since filter: %+v", got)
	}

	got, _ = s.Query(ctx, models.AuditQueryOpts{Limit: 2})
	if len(got) != 2 {
		t.Errorf("limit: expected 2, got %d", len(got))
	}
}

func TestStats(t *testing.T) {
	s := mustOpen(t, tempCfg(t))
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	_ = s.Record(ctx, sampleResult("a-1", "org/one", models.VerdictMatch, day))
	_ = s.Record(ctx, sampleResult("a-2", "org/one", models.VerdictMatch, day.Add(time.Hour)))
	_ = s.Record(ctx, sampleResult("a-3", "org/one", models.VerdictNoMatch, day.Add(2*time.Hour)))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stat rows, got %d", len(stats))
	}
	if stats[0].Day != "2026-03-14" || stats[0].Verdict != models.VerdictMatch || stats[0].Count != 2 {
		t.Errorf("unexpected first stat: %+v", stats[0])
	}
	if stats[1].Verdict != models.VerdictNoMatch || stats[1].Count != 1 {
		t.Errorf("unexpected second stat: %+v", stats[1])
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 1
	s := mustOpen(t, cfg)
	ctx := context.Background()

	_ = s.Record(ctx, sampleResult("old", "org/one", models.VerdictMatch, time.Now().Add(-72*time.Hour)))
	_ = s.Record(ctx, sampleResult("new", "org/one", models.VerdictMatch, time.Now()))

	n, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	got, _ := s.Query(ctx, models.AuditQueryOpts{})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("expected only the recent audit to remain: %+v", got)
	}
	probes, _ := s.Probes(ctx, "old")
	if len(probes) != 0 {
		t.Errorf("expected old probes removed, got %d", len(probes))
	}
}

func TestNilStoreRecord(t *testing.T) {
	var s *Store
	if err := s.Record(context.Background(), models.AuditResult{ID: "x"}); err != nil {
		t.Errorf("expected nil error from nil store, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected nil error closing nil store, got %v", err)
	}
}
