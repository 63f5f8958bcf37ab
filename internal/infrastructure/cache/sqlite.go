// Package cache implements the local SQLite store shared by pipeline stages:
// a TTL page cache for detail-page HTML and an append-only rank history used
// for delta computation. Storage errors never propagate; a broken cache
// behaves like an empty one.
package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

// PurposeHTML keys cached App Store detail pages.
const PurposeHTML = "html"

// Store is a SQLite-backed ports.AppCache. Access is single-threaded per run,
// so no locking beyond the driver's own is needed.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.AppCache = (*Store)(nil)

// Open creates (or reuses) the cache database at path. A leading "~/" is
// expanded against the user's home directory.
func Open(path string, logger *slog.Logger) (*Store, error) {
	path = expandHome(path)
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	store := &Store{db: db, logger: logger, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return store, nil
}

func (s *Store) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS page_cache (
  purpose TEXT NOT NULL,
  cache_key TEXT NOT NULL,
  payload BLOB NOT NULL,
  stored_at TEXT NOT NULL,
  PRIMARY KEY (purpose, cache_key)
);
CREATE TABLE IF NOT EXISTS rank_history (
  app_id TEXT NOT NULL,
  category TEXT NOT NULL,
  country TEXT NOT NULL,
  chart TEXT NOT NULL,
  rank INTEGER NOT NULL,
  observed_at TEXT NOT NULL,
  observed_day TEXT NOT NULL,
  PRIMARY KEY (app_id, category, country, chart, observed_day)
);
CREATE INDEX IF NOT EXISTS idx_rank_history_day ON rank_history(observed_day);
CREATE INDEX IF NOT EXISTS idx_page_cache_stored ON page_cache(stored_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the cached payload unless absent or older than ttl. Expired
// rows are lazily evicted on the read that discovers them.
func (s *Store) Get(purpose, key string, ttl time.Duration) ([]byte, bool) {
	row := s.db.QueryRow(
		`SELECT payload, stored_at FROM page_cache WHERE purpose = ? AND cache_key = ?`,
		purpose, key,
	)

	var payload []byte
	var storedAt string
	if err := row.Scan(&payload, &storedAt); err != nil {
		if err != sql.ErrNoRows {
			s.debug("cache get degraded to miss", "purpose", purpose, "key", key, "error", err)
		}
		return nil, false
	}

	stored, err := time.Parse(time.RFC3339, storedAt)
	if err != nil {
		s.debug("cache record has bad timestamp", "purpose", purpose, "key", key, "error", err)
		return nil, false
	}

	if s.now().UTC().Sub(stored) > ttl {
		if _, err := s.db.Exec(
			`DELETE FROM page_cache WHERE purpose = ? AND cache_key = ?`, purpose, key,
		); err != nil {
			s.debug("lazy eviction failed", "purpose", purpose, "key", key, "error", err)
		}
		return nil, false
	}

	return payload, true
}

// Put overwrites unconditionally. Errors are logged and swallowed.
func (s *Store) Put(purpose, key string, payload []byte) {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO page_cache (purpose, cache_key, payload, stored_at) VALUES (?, ?, ?, ?)`,
		purpose, key, payload, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.debug("cache put skipped", "purpose", purpose, "key", key, "error", err)
	}
}

// RecordRank appends one chart observation. One observation per app and day
// is kept; a re-run on the same day overwrites rather than duplicating.
func (s *Store) RecordRank(entry domain.RankingEntry) {
	observed := entry.FetchedAt.UTC()
	if observed.IsZero() {
		observed = s.now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO rank_history (app_id, category, country, chart, rank, observed_at, observed_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AppID,
		entry.Category,
		entry.Country,
		string(entry.Chart),
		entry.Rank,
		observed.Format(time.RFC3339),
		observed.Format("2006-01-02"),
	)
	if err != nil {
		s.debug("rank observation skipped", "app_id", entry.AppID, "error", err)
	}
}

// RankDelta returns newest rank minus the oldest rank observed within the
// window, or nil with fewer than two observations. Negative means the app
// climbed toward #1.
func (s *Store) RankDelta(appID string, combo domain.Combination, window time.Duration) *int {
	cutoff := s.now().UTC().Add(-window).Format("2006-01-02")

	rows, err := s.db.Query(
		`SELECT rank FROM rank_history
		 WHERE app_id = ? AND category = ? AND country = ? AND chart = ? AND observed_day >= ?
		 ORDER BY observed_day DESC`,
		appID, combo.Category, combo.Country, string(combo.Chart), cutoff,
	)
	if err != nil {
		s.debug("rank delta query degraded", "app_id", appID, "error", err)
		return nil
	}
	defer rows.Close()

	var ranks []int
	for rows.Next() {
		var rank int
		if err := rows.Scan(&rank); err != nil {
			s.debug("rank delta scan degraded", "app_id", appID, "error", err)
			return nil
		}
		ranks = append(ranks, rank)
	}
	if err := rows.Err(); err != nil {
		s.debug("rank delta rows degraded", "app_id", appID, "error", err)
		return nil
	}

	if len(ranks) < 2 {
		return nil
	}

	delta := ranks[0] - ranks[len(ranks)-1]
	return &delta
}

// PurgeOlderThan removes rank observations and page records beyond the
// retention window. Runs at end of batch, failures only logged.
func (s *Store) PurgeOlderThan(days int) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	if _, err := s.db.Exec(
		`DELETE FROM rank_history WHERE observed_day < ?`, cutoff.Format("2006-01-02"),
	); err != nil {
		s.debug("rank history purge failed", "error", err)
	}

	if _, err := s.db.Exec(
		`DELETE FROM page_cache WHERE stored_at < ?`, cutoff.Format(time.RFC3339),
	); err != nil {
		s.debug("page cache purge failed", "error", err)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
