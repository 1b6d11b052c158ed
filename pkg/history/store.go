// Package history persists audit results and their per-challenge probes in
// SQLite so past verdicts can be searched and summarized.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jfrog/jfrog-client-go/utils/log"
	_ "modernc.org/sqlite"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Store writes and queries audit history in a dedicated SQLite database.
type Store struct {
	db   *sql.DB
	cfg  config.HistoryConfig
	done chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// Open opens the history database, creates the schema and starts the
// hourly retention sweep.
func Open(cfg config.HistoryConfig) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	s := &Store{db: db, cfg: cfg, done: make(chan struct{}), now: time.Now}
	s.wg.Add(1)
	go s.retentionLoop()
	return s, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audits (
			id                 TEXT PRIMARY KEY,
			model              TEXT NOT NULL,
			mode               TEXT NOT NULL,
			verdict            TEXT NOT NULL,
			confidence         REAL NOT NULL,
			matches            INTEGER NOT NULL,
			total_tested       INTEGER NOT NULL,
			duration_seconds   REAL NOT NULL,
			error              TEXT,
			fingerprint_set_id TEXT,
			created_at         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_model ON audits(model)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_created ON audits(created_at)`,
		`CREATE TABLE IF NOT EXISTS probes (
			audit_id   TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			query_hash TEXT NOT NULL,
			matched    INTEGER NOT NULL,
			similarity REAL NOT NULL,
			empty      INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			PRIMARY KEY (audit_id, seq)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record stores an audit result. Probes are kept only when RecordProbes is
// set. A nil Store records nothing.
func (s *Store) Record(ctx context.Context, r models.AuditResult) error {
	if s == nil || s.db == nil {
		return nil
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO audits
		(id, model, mode, verdict, confidence, matches, total_tested,
		 duration_seconds, error, fingerprint_set_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ModelIdentifier, string(r.Mode), string(r.Verdict), r.Confidence,
		r.Matches, r.TotalTested, r.DurationSeconds, r.Error, r.FingerprintSetID,
		ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	if s.cfg.RecordProbes && len(r.Probes) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM probes WHERE audit_id = ?`, r.ID); err != nil {
			return fmt.Errorf("reset probes: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO probes (audit_id, seq, query_hash, matched, similarity, empty, latency_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare probe insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range r.Probes {
			if _, err := stmt.ExecContext(ctx, r.ID, p.Seq, p.QueryHash, p.Matched, p.Similarity, p.Empty, p.LatencyMs); err != nil {
				return fmt.Errorf("insert probe: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Query returns recorded audits matching opts, newest first.
func (s *Store) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditResult, error) {
	q := `SELECT id, model, mode, verdict, confidence, matches, total_tested,
		duration_seconds, error, fingerprint_set_id, created_at
		FROM audits WHERE 1=1`
	var args []any

	if opts.ID != "" {
		q += " AND id = ?"
		args = append(args, opts.ID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Verdict != "" {
		q += " AND verdict = ?"
		args = append(args, string(opts.Verdict))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var results []models.AuditResult
	for rows.Next() {
		var (
			r             models.AuditResult
			mode, verdict string
			errText       sql.NullString
			setID         sql.NullString
			created       string
		)
		if err := rows.Scan(&r.ID, &r.ModelIdentifier, &mode, &verdict, &r.Confidence,
			&r.Matches, &r.TotalTested, &r.DurationSeconds, &errText, &setID, &created); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Mode = models.AuditMode(mode)
		r.Verdict = models.Verdict(verdict)
		r.Error = errText.String
		r.FingerprintSetID = setID.String
		if t, err := time.Parse(timeLayout, created); err == nil {
			r.Timestamp = t
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Probes returns the recorded probes of one audit in sequence order.
func (s *Store) Probes(ctx context.Context, auditID string) ([]models.Probe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, query_hash, matched, similarity, empty, latency_ms
		 FROM probes WHERE audit_id = ? ORDER BY seq`, auditID)
	if err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}
	defer rows.Close()

	var probes []models.Probe
	for rows.Next() {
		var p models.Probe
		if err := rows.Scan(&p.Seq, &p.QueryHash, &p.Matched, &p.Similarity, &p.Empty, &p.LatencyMs); err != nil {
			return nil, fmt.Errorf("scan probe: %w", err)
		}
		probes = append(probes, p)
	}
	return probes, rows.Err()
}

// Stats returns audit counts grouped by model, day and verdict.
func (s *Store) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, substr(created_at, 1, 10) AS day, verdict, count(*) AS cnt
		 FROM audits GROUP BY model, day, verdict ORDER BY day DESC, model, verdict`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var st models.AuditStat
		var verdict string
		if err := rows.Scan(&st.Model, &st.Day, &verdict, &st.Count); err != nil {
			return nil, fmt.Errorf("scan history stat: %w", err)
		}
		st.Verdict = models.Verdict(verdict)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup deletes audits and their probes older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays).UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM probes WHERE audit_id IN (SELECT id FROM audits WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM audits WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Close stops the retention goroutine and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			n, err := s.Cleanup(context.Background())
			if err != nil {
				log.Warn(fmt.Sprintf("History retention sweep failed: %v", err))
			} else if n > 0 {
				log.Info(fmt.Sprintf("History retention removed %d audits", n))
			}
		}
	}
}
