package domain

import (
	"fmt"
	"time"
)

// Chart identifies which App Store chart an entry came from.
type Chart string

const (
	ChartFree Chart = "free"
	ChartPaid Chart = "paid"
)

// ValidChart reports whether the chart name is one the feed supports.
func ValidChart(c Chart) bool {
	return c == ChartFree || c == ChartPaid
}

// Combination is one (category, country, chart) cell of the collection matrix.
type Combination struct {
	Category string
	Country  string
	Chart    Chart
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Category, c.Country, c.Chart)
}

// RankingEntry is a raw chart position produced by one collection run.
// Immutable once produced; lives for a single pipeline pass.
type RankingEntry struct {
	Category  string
	Country   string
	Chart     Chart
	Rank      int
	AppID     string
	Name      string
	FeedURL   string
	FetchedAt time.Time
}

// Combination returns the matrix cell this entry belongs to.
func (r RankingEntry) Combination() Combination {
	return Combination{Category: r.Category, Country: r.Country, Chart: r.Chart}
}

// Validate rejects entries that would corrupt downstream scoring or storage.
// A failed entry is dropped alone; siblings are unaffected.
func (r RankingEntry) Validate() error {
	if r.Rank < 1 {
		return fmt.Errorf("rank must be positive, got %d", r.Rank)
	}
	if r.AppID == "" {
		return fmt.Errorf("missing app id")
	}
	if !ValidChart(r.Chart) {
		return fmt.Errorf("unknown chart %q", r.Chart)
	}
	return nil
}

// AppPage holds everything the enricher extracts from an App Store detail
// page. Every field has a neutral zero default: extraction is best-effort and
// a missing field never invalidates the entry.
type AppPage struct {
	BundleID    string
	Price       float64
	HasIAP      bool
	RatingCount int
	RatingAvg   float64
	Description string
	DescLen     int
	// RecentReviews is a small sample used only as a review-velocity signal.
	RecentReviews []string
}

// Validate rejects pages whose numeric fields are out of range.
func (p AppPage) Validate() error {
	if p.Price < 0 {
		return fmt.Errorf("negative price %.2f", p.Price)
	}
	if p.RatingAvg < 0 || p.RatingAvg > 5 {
		return fmt.Errorf("rating average %.2f outside [0,5]", p.RatingAvg)
	}
	if p.RatingCount < 0 {
		return fmt.Errorf("negative rating count %d", p.RatingCount)
	}
	return nil
}

// EnrichedEntry combines a ranking entry with its detail-page data and the
// trailing rank movement. RankDelta7d is nil when no history exists; negative
// means the rank improved (moved toward #1).
type EnrichedEntry struct {
	RankingEntry
	AppPage
	RankDelta7d *int
}

// ScoredEntry carries the four sub-scores and the weighted total.
// GeneratedAt is the batch timestamp shared by every entry of one run and is
// part of the natural publish key (generated_at, app_id, country, chart).
type ScoredEntry struct {
	EnrichedEntry
	GeneratedAt   time.Time
	Demand        float64
	Monetization  float64
	LowComplexity float64
	MoatRisk      float64
	Total         float64
}

// PublishSummary reports per-chunk publish outcomes for one batch.
type PublishSummary struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Add folds another summary into this one.
func (s *PublishSummary) Add(other PublishSummary) {
	s.Attempted += other.Attempted
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
}

// RunReport aggregates per-stage counters for the end-of-run summary log.
type RunReport struct {
	RunID           string
	GeneratedAt     time.Time
	Combinations    int
	CombosFailed    int
	Collected       int
	Dropped         int
	EnrichFailed    int
	Scored          int
	Publish         PublishSummary
	Recommendations int
	RecommendFailed int
}
