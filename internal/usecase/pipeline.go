package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
	"github.com/Cyb3rEchos/trend-scout/internal/scoring"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.ChartSource
	Cache       ports.AppCache
	Enricher    ports.Enricher
	Store       ports.ResultStore
	Recommender ports.Recommender
	Logger      *slog.Logger

	Combinations  []domain.Combination
	TopN          int
	RetentionDays int
	RecommendTop  int
}

// Pipeline implements the collect, enrich, score, publish workflow. Partial
// failure is tolerated at the smallest scope: a failed combination is skipped,
// a failed enrichment keeps the entry with neutral page data, a failed publish
// chunk is counted. The run aborts only when it produced nothing at all or the
// result store is unreachable.
type Pipeline struct {
	source      ports.ChartSource
	cache       ports.AppCache
	enricher    ports.Enricher
	store       ports.ResultStore
	recommender ports.Recommender
	logger      *slog.Logger

	combinations  []domain.Combination
	topN          int
	retentionDays int
	recommendTop  int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		source:        deps.Source,
		cache:         deps.Cache,
		enricher:      deps.Enricher,
		store:         deps.Store,
		recommender:   deps.Recommender,
		logger:        logger,
		combinations:  deps.Combinations,
		topN:          deps.TopN,
		retentionDays: deps.RetentionDays,
		recommendTop:  deps.RecommendTop,
	}
}

// Run executes one full pipeline pass. Every entry produced in the pass shares
// generatedAt; re-running with the same value replays the batch idempotently.
// A zero generatedAt means now, in UTC, truncated to the second.
func (p *Pipeline) Run(ctx context.Context, generatedAt time.Time) (domain.RunReport, error) {
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC().Truncate(time.Second)
	}

	report := domain.RunReport{
		RunID:        uuid.NewString(),
		GeneratedAt:  generatedAt,
		Combinations: len(p.combinations),
	}
	logger := p.logger.With("run_id", report.RunID, "generated_at", generatedAt)

	if p.store != nil {
		if err := p.store.Ping(ctx); err != nil {
			return report, fmt.Errorf("result store unreachable: %w", err)
		}
	}

	entries, err := p.collect(ctx, generatedAt, &report, logger)
	if err != nil {
		return report, err
	}

	scored := p.enrichAndScore(ctx, entries, generatedAt, &report, logger)
	report.Scored = len(scored)

	if p.store != nil {
		summary, err := p.store.PublishBatch(ctx, scored)
		report.Publish = summary
		if err != nil {
			return report, fmt.Errorf("publish: %w", err)
		}
		if summary.Failed > 0 {
			logger.Warn("publish finished with failures",
				"succeeded", summary.Succeeded, "failed", summary.Failed)
		}
	}

	if p.cache != nil && p.retentionDays > 0 {
		p.cache.PurgeOlderThan(p.retentionDays)
	}

	p.recommend(ctx, scored, &report, logger)

	logger.Info("run complete",
		"combinations", report.Combinations,
		"combos_failed", report.CombosFailed,
		"collected", report.Collected,
		"dropped", report.Dropped,
		"enrich_failed", report.EnrichFailed,
		"scored", report.Scored,
		"published", report.Publish.Succeeded,
		"publish_failed", report.Publish.Failed,
		"recommendations", report.Recommendations,
	)

	return report, nil
}

// Collect runs only the collect and enrich stages, warming the cache and rank
// history without touching the result store.
func (p *Pipeline) Collect(ctx context.Context, generatedAt time.Time) (domain.RunReport, error) {
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC().Truncate(time.Second)
	}

	report := domain.RunReport{
		RunID:        uuid.NewString(),
		GeneratedAt:  generatedAt,
		Combinations: len(p.combinations),
	}
	logger := p.logger.With("run_id", report.RunID)

	entries, err := p.collect(ctx, generatedAt, &report, logger)
	if err != nil {
		return report, err
	}

	scored := p.enrichAndScore(ctx, entries, generatedAt, &report, logger)
	report.Scored = len(scored)

	logger.Info("collect complete", "collected", report.Collected, "scored", report.Scored)
	return report, nil
}

func (p *Pipeline) collect(ctx context.Context, generatedAt time.Time, report *domain.RunReport, logger *slog.Logger) ([]domain.RankingEntry, error) {
	var entries []domain.RankingEntry

	for _, combo := range p.combinations {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fetched, err := p.source.FetchChart(ctx, combo, p.topN, generatedAt)
		if err != nil {
			report.CombosFailed++
			logger.Warn("combination skipped", "combination", combo.String(), "error", err)
			continue
		}

		for _, entry := range fetched {
			if err := entry.Validate(); err != nil {
				report.Dropped++
				logger.Debug("entry dropped", "combination", combo.String(), "error", err)
				continue
			}
			entries = append(entries, entry)
		}
	}

	report.Collected = len(entries)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries collected across %d combinations", len(p.combinations))
	}
	return entries, nil
}

func (p *Pipeline) enrichAndScore(ctx context.Context, entries []domain.RankingEntry, generatedAt time.Time, report *domain.RunReport, logger *slog.Logger) []domain.ScoredEntry {
	scored := make([]domain.ScoredEntry, 0, len(entries))

	for _, entry := range entries {
		enriched, err := p.enricher.Enrich(ctx, entry)
		if err != nil {
			report.EnrichFailed++
			logger.Debug("enrichment degraded", "app_id", entry.AppID, "error", err)
		}

		result := scoring.Score(enriched)
		result.GeneratedAt = generatedAt
		scored = append(scored, result)
	}

	return scored
}

// recommend decorates the top entries per category with AI suggestions.
// Failures are counted and never affect the published batch.
func (p *Pipeline) recommend(ctx context.Context, scored []domain.ScoredEntry, report *domain.RunReport, logger *slog.Logger) {
	if p.recommender == nil || p.recommendTop <= 0 {
		return
	}

	for _, entry := range topPerCategory(scored, p.recommendTop) {
		rec, err := p.recommender.Recommend(ctx, entry)
		if err != nil {
			report.RecommendFailed++
			logger.Warn("recommendation failed", "app_id", entry.AppID, "error", err)
			continue
		}
		report.Recommendations++
		logger.Info("recommendation generated",
			"app_id", entry.AppID, "category", entry.Category, "kind", string(rec.Kind))
	}
}

// topPerCategory selects the n highest-scoring entries per category,
// preserving category grouping in a stable order.
func topPerCategory(scored []domain.ScoredEntry, n int) []domain.ScoredEntry {
	byCategory := make(map[string][]domain.ScoredEntry)
	var order []string

	for _, entry := range scored {
		if _, seen := byCategory[entry.Category]; !seen {
			order = append(order, entry.Category)
		}
		byCategory[entry.Category] = append(byCategory[entry.Category], entry)
	}

	var picked []domain.ScoredEntry
	for _, category := range order {
		group := byCategory[category]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Total > group[j].Total })
		if len(group) > n {
			group = group[:n]
		}
		picked = append(picked, group...)
	}

	return picked
}
