// Package storage publishes scored batches into the remote Postgres store.
// Idempotency is enforced by the store's uniqueness constraint over the
// natural key (generated_at, app_id, country, chart); the publisher relies on
// it rather than re-implementing it.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

const (
	resultsTable      = "scout_results"
	rankedView        = "scout_results_ranked"
	defaultChunkSize  = 100
	defaultMaxRetries = 3
)

// Schema documents the result table the publisher depends on. The UNIQUE
// constraint is what makes re-publishing a batch a no-op update.
const Schema = `
CREATE TABLE IF NOT EXISTS scout_results (
  id BIGSERIAL PRIMARY KEY,
  generated_at TIMESTAMPTZ NOT NULL,
  category TEXT NOT NULL,
  country TEXT NOT NULL,
  chart TEXT NOT NULL,
  rank INTEGER NOT NULL,
  app_id TEXT NOT NULL,
  bundle_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price NUMERIC(8,2) NOT NULL,
  has_iap BOOLEAN NOT NULL,
  rating_count INTEGER NOT NULL,
  rating_avg REAL NOT NULL,
  desc_len INTEGER NOT NULL,
  rank_delta7d INTEGER,
  demand REAL NOT NULL,
  monetization REAL NOT NULL,
  low_complexity REAL NOT NULL,
  moat_risk REAL NOT NULL,
  total REAL NOT NULL,
  UNIQUE (generated_at, app_id, country, chart)
);
CREATE INDEX IF NOT EXISTS idx_scout_results_batch ON scout_results(generated_at);
CREATE INDEX IF NOT EXISTS idx_scout_results_score ON scout_results(category, total DESC);
`

var resultColumns = []string{
	"generated_at", "category", "country", "chart", "rank",
	"app_id", "bundle_id", "name", "price", "has_iap",
	"rating_count", "rating_avg", "desc_len", "rank_delta7d",
	"demand", "monetization", "low_complexity", "moat_risk", "total",
}

// DB is the subset of *sql.DB the repository uses; narrowed for tests.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

// PostgresRepository implements ports.ResultStore.
type PostgresRepository struct {
	db         DB
	chunkSize  int
	maxRetries int
	logger     *slog.Logger
	strategies []readStrategy
}

var _ ports.ResultStore = (*PostgresRepository)(nil)

// Options tunes chunking and retry behaviour.
type Options struct {
	ChunkSize  int
	MaxRetries int
	Logger     *slog.Logger
}

// NewPostgresRepository wires a database handle.
func NewPostgresRepository(db DB, opts Options) *PostgresRepository {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &PostgresRepository{
		db:         db,
		chunkSize:  chunkSize,
		maxRetries: maxRetries,
		logger:     opts.Logger,
		strategies: defaultReadStrategies(),
	}
}

// EnsureSchema creates the result table and indexes when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PublishBatch upserts the batch in chunks. A chunk that keeps failing after
// retries is counted and skipped; the batch never aborts part-way. The
// returned error is non-nil only when every chunk failed.
func (r *PostgresRepository) PublishBatch(ctx context.Context, entries []domain.ScoredEntry) (domain.PublishSummary, error) {
	summary := domain.PublishSummary{Attempted: len(entries)}
	if len(entries) == 0 {
		return summary, nil
	}

	for start := 0; start < len(entries); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		if err := r.upsertChunk(ctx, chunk); err != nil {
			summary.Failed += len(chunk)
			r.warn("publish chunk failed", "offset", start, "size", len(chunk), "error", err)
			continue
		}
		summary.Succeeded += len(chunk)
	}

	if summary.Succeeded == 0 {
		return summary, fmt.Errorf("publish batch: all %d chunks failed", (len(entries)+r.chunkSize-1)/r.chunkSize)
	}
	return summary, nil
}

func (r *PostgresRepository) upsertChunk(ctx context.Context, chunk []domain.ScoredEntry) error {
	query, args, err := buildUpsert(chunk)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	operation := func() error {
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.maxRetries)),
		ctx,
	)

	return backoff.Retry(operation, policy)
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT DO UPDATE.
// Re-running a batch with the same generated_at updates rows in place.
func buildUpsert(chunk []domain.ScoredEntry) (string, []any, error) {
	builder := sq.Insert(resultsTable).Columns(resultColumns...)

	for _, e := range chunk {
		builder = builder.Values(
			e.GeneratedAt,
			e.Category,
			e.Country,
			string(e.Chart),
			e.Rank,
			e.AppID,
			e.BundleID,
			e.Name,
			e.Price,
			e.HasIAP,
			e.RatingCount,
			e.RatingAvg,
			e.DescLen,
			nullableDelta(e.RankDelta7d),
			e.Demand,
			e.Monetization,
			e.LowComplexity,
			e.MoatRisk,
			e.Total,
		)
	}

	builder = builder.Suffix(`ON CONFLICT (generated_at, app_id, country, chart) DO UPDATE SET
		category = EXCLUDED.category,
		rank = EXCLUDED.rank,
		bundle_id = EXCLUDED.bundle_id,
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		has_iap = EXCLUDED.has_iap,
		rating_count = EXCLUDED.rating_count,
		rating_avg = EXCLUDED.rating_avg,
		desc_len = EXCLUDED.desc_len,
		rank_delta7d = EXCLUDED.rank_delta7d,
		demand = EXCLUDED.demand,
		monetization = EXCLUDED.monetization,
		low_complexity = EXCLUDED.low_complexity,
		moat_risk = EXCLUDED.moat_risk,
		total = EXCLUDED.total`)

	return builder.PlaceholderFormat(sq.Dollar).ToSql()
}

func nullableDelta(delta *int) any {
	if delta == nil {
		return nil
	}
	return int64(*delta)
}

// readStrategy is one way to read a batch back. Strategies are tried in
// order; the first that answers wins. The order itself is configuration, not
// control flow buried in error handling.
type readStrategy struct {
	name    string
	from    string
	orderBy []string
}

func defaultReadStrategies() []readStrategy {
	return []readStrategy{
		{name: "ranked_view", from: rankedView, orderBy: []string{"category", "total DESC"}},
		{name: "base_table", from: resultsTable, orderBy: []string{"category", "country", "chart", "rank"}},
	}
}

// LatestBatch resolves MAX(generated_at) and reads that batch back.
func (r *PostgresRepository) LatestBatch(ctx context.Context) (time.Time, []domain.ScoredEntry, error) {
	latest, err := r.latestGeneratedAt(ctx)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("resolve latest batch: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil, nil
	}

	var lastErr error
	for _, strategy := range r.strategies {
		entries, err := r.readBatch(ctx, strategy, latest.Time)
		if err != nil {
			lastErr = err
			r.warn("read strategy failed, trying next", "strategy", strategy.name, "error", err)
			continue
		}
		return latest.Time, entries, nil
	}

	return time.Time{}, nil, fmt.Errorf("read latest batch: %w", lastErr)
}

func (r *PostgresRepository) latestGeneratedAt(ctx context.Context) (sql.NullTime, error) {
	var latest sql.NullTime

	rows, err := r.db.QueryContext(ctx, `SELECT MAX(generated_at) FROM `+resultsTable)
	if err != nil {
		return latest, err
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&latest); err != nil {
			return latest, err
		}
	}
	return latest, rows.Err()
}

func (r *PostgresRepository) readBatch(ctx context.Context, strategy readStrategy, generatedAt time.Time) ([]domain.ScoredEntry, error) {
	query, args, err := sq.Select(resultColumns...).
		From(strategy.from).
		Where(sq.Eq{"generated_at": generatedAt}).
		OrderBy(strategy.orderBy...).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", strategy.name, err)
	}
	defer rows.Close()

	var entries []domain.ScoredEntry
	for rows.Next() {
		var e domain.ScoredEntry
		var chart string
		var delta sql.NullInt64

		err := rows.Scan(
			&e.GeneratedAt,
			&e.Category,
			&e.Country,
			&chart,
			&e.Rank,
			&e.AppID,
			&e.BundleID,
			&e.Name,
			&e.Price,
			&e.HasIAP,
			&e.RatingCount,
			&e.RatingAvg,
			&e.DescLen,
			&delta,
			&e.Demand,
			&e.Monetization,
			&e.LowComplexity,
			&e.MoatRisk,
			&e.Total,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Chart = domain.Chart(chart)
		if delta.Valid {
			value := int(delta.Int64)
			e.RankDelta7d = &value
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return entries, nil
}

// Ping verifies connectivity and credentials; a failure here is run-fatal.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping result store: %w", err)
	}
	return nil
}

func (r *PostgresRepository) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
