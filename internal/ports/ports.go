package ports

import (
	"context"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
)

// ChartSource fetches one ranking chart from the upstream feed. Ranks in the
// returned slice are unique and strictly increasing from 1.
type ChartSource interface {
	FetchChart(ctx context.Context, combo domain.Combination, topN int, fetchedAt time.Time) ([]domain.RankingEntry, error)
}

// AppCache is the local store shared across pipeline stages. All methods
// degrade instead of failing: Get reports a miss on any storage error, Put and
// RecordRank log and swallow errors. Caching is an optimization, never a
// correctness requirement.
type AppCache interface {
	// Get returns the payload for (purpose, key) unless it is absent or older
	// than ttl. Expiry is checked at read time.
	Get(purpose, key string, ttl time.Duration) ([]byte, bool)
	// Put overwrites unconditionally; last writer wins.
	Put(purpose, key string, payload []byte)
	// RecordRank appends an immutable chart observation for delta computation.
	RecordRank(entry domain.RankingEntry)
	// RankDelta returns rank_now - rank_window_ago for the app within its
	// combination, or nil when fewer than two observations exist in the window.
	RankDelta(appID string, combo domain.Combination, window time.Duration) *int
	// PurgeOlderThan deletes rank-history observations beyond the retention
	// window. Run at the end of a batch.
	PurgeOlderThan(days int)
	Close() error
}

// Enricher resolves an entry's detail page (through the cache) and computes
// its trailing rank delta. Implementations return neutral page data together
// with a non-nil error when the page could not be fetched or parsed: the entry
// still proceeds to scoring.
type Enricher interface {
	Enrich(ctx context.Context, entry domain.RankingEntry) (domain.EnrichedEntry, error)
}

// ResultStore is the remote relational store. PublishBatch must be idempotent
// under the (generated_at, app_id, country, chart) natural key.
type ResultStore interface {
	PublishBatch(ctx context.Context, entries []domain.ScoredEntry) (domain.PublishSummary, error)
	// LatestBatch returns the most recent generated_at and its rows.
	LatestBatch(ctx context.Context) (time.Time, []domain.ScoredEntry, error)
	Ping(ctx context.Context) error
}

// Recommender is the optional AI collaborator. Its failures never influence
// numeric scores.
type Recommender interface {
	Recommend(ctx context.Context, entry domain.ScoredEntry) (domain.Recommendation, error)
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
