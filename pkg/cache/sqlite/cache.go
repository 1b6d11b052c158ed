package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/UIDickinson/llm-identity/pkg/models"
)

// Cache is an exact-match inference response cache backed by SQLite.
// Decoding is greedy, so a (model, prompt) pair always yields the same text
// until the model at that location changes; the TTL bounds that window.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createResponseTable = `
CREATE TABLE IF NOT EXISTS responses (
	prompt_hash TEXT NOT NULL,
	model TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ttl_seconds INTEGER NOT NULL,
	PRIMARY KEY (prompt_hash, model)
);
`

// New creates a Cache with the given database path and TTL.
func New(dbPath string, ttl time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open response cache db: %w", err)
	}

	if _, err := db.Exec(createResponseTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate response cache db: %w", err)
	}

	return &Cache{db: db, ttl: ttl}, nil
}

// HashPrompt computes a SHA-256 hash of the model location and prompt.
// The prompt is a fingerprint challenge, so only its hash is stored.
func HashPrompt(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get retrieves a cached response. Returns false if not found or expired.
func (c *Cache) Get(promptHash, model string) ([]byte, bool) {
	var response string
	var createdAt time.Time
	var ttlSeconds int64

	err := c.db.QueryRow(
		`SELECT response, created_at, ttl_seconds FROM responses WHERE prompt_hash = ? AND model = ?`,
		promptHash, model,
	).Scan(&response, &createdAt, &ttlSeconds)

	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	ttl := time.Duration(ttlSeconds) * time.Second
	if time.Since(createdAt) > ttl {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return []byte(response), true
}

// Put stores a response in the cache.
func (c *Cache) Put(promptHash, model string, response []byte) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO responses (prompt_hash, model, response, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		promptHash, model, string(response), time.Now().UTC(), int64(c.ttl.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("response cache put: %w", err)
	}
	return nil
}

// Forget drops every cached response for a model location, e.g. after it is re-provisioned.
func (c *Cache) Forget(model string) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM responses WHERE model = ?`, model)
	if err != nil {
		return 0, fmt.Errorf("response cache forget: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() (models.ResponseCacheStats, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM responses`).Scan(&count)
	if err != nil {
		return models.ResponseCacheStats{}, fmt.Errorf("response cache stats: %w", err)
	}
	return models.ResponseCacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) error {
	var query string
	if expiredOnly {
		query = `DELETE FROM responses WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`
	} else {
		query = `DELETE FROM responses`
	}
	_, err := c.db.Exec(query)
	if err != nil {
		return fmt.Errorf("response cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
