// Package app assembles configuration, adapters, and use cases.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/config"
	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/cache"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/feed"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/llm"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/scheduler"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/scrape"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/storage"
	"github.com/Cyb3rEchos/trend-scout/internal/logging"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
	"github.com/Cyb3rEchos/trend-scout/internal/usecase"
)

// rankDeltaWindow is the history span used for the 7-day rank delta.
const rankDeltaWindow = 7 * 24 * time.Hour

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *sql.DB
	cache    *cache.Store
	source   ports.ChartSource
	store    *storage.PostgresRepository
	pipeline *usecase.Pipeline
	daemon   *usecase.Scheduler
}

// New builds a runnable application instance. The caller owns Close.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	cacheStore, err := cache.Open(cfg.Cache.Path, baseLogger.With("component", "cache"))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("open result store: %w", err)
	}

	repository := storage.NewPostgresRepository(db, storage.Options{
		ChunkSize:  cfg.Publisher.ChunkSize,
		MaxRetries: cfg.Publisher.MaxRetries,
		Logger:     baseLogger.With("component", "publisher"),
	})

	httpClient := &http.Client{Timeout: cfg.Collection.Timeout()}

	source := feed.NewClient(httpClient, feed.Options{
		Genres:     genreMap(cfg.Collection.Categories),
		MinDelay:   cfg.Collection.FeedDelay(),
		MaxRetries: cfg.Collection.MaxRetries,
		Logger:     baseLogger.With("component", "collector"),
	})

	enricher := scrape.NewEnricher(httpClient, cacheStore, scrape.Options{
		MinDelay:    cfg.Collection.ScrapeDelay(),
		MaxRetries:  cfg.Collection.MaxRetries,
		HTMLTTL:     cfg.Cache.HTMLTTL(),
		DeltaWindow: rankDeltaWindow,
		Logger:      baseLogger.With("component", "enricher"),
	})

	var recommender ports.Recommender
	if cfg.Recommender.APIKey != "" {
		recommender = llm.NewHFClient(cfg.Recommender)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:        source,
		Cache:         cacheStore,
		Enricher:      enricher,
		Store:         repository,
		Recommender:   recommender,
		Logger:        baseLogger.With("component", "pipeline"),
		Combinations:  matrix(cfg.Collection),
		TopN:          cfg.Collection.TopN,
		RetentionDays: cfg.Cache.RetentionDays,
		RecommendTop:  cfg.Recommender.TopPerCategory,
	})

	driver := scheduler.NewIntervalScheduler(cfg.Scheduler.Interval())

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		cache:    cacheStore,
		source:   source,
		store:    repository,
		pipeline: pipeline,
		daemon:   usecase.NewScheduler(driver, pipeline, baseLogger.With("component", "scheduler")),
	}, nil
}

// Run performs one full pipeline pass. A zero generatedAt means now; passing
// an earlier batch timestamp replays that batch idempotently.
func (a *Application) Run(ctx context.Context, generatedAt time.Time) (domain.RunReport, error) {
	return a.pipeline.Run(ctx, generatedAt)
}

// Collect warms the cache and rank history without publishing.
func (a *Application) Collect(ctx context.Context) (domain.RunReport, error) {
	return a.pipeline.Collect(ctx, time.Time{})
}

// Purge removes cache records beyond the retention window.
func (a *Application) Purge(ctx context.Context) error {
	a.cache.PurgeOlderThan(a.cfg.Cache.RetentionDays)
	return ctx.Err()
}

// Doctor verifies each external collaborator and reports the failures.
func (a *Application) Doctor(ctx context.Context) error {
	var problems []string

	if err := a.store.Ping(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("result store: %v", err))
	} else if err := a.store.EnsureSchema(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("result schema: %v", err))
	} else {
		a.logger.Info("result store reachable, schema ensured")
	}

	combinations := matrix(a.cfg.Collection)
	if len(combinations) == 0 {
		problems = append(problems, "collection matrix is empty")
	} else if _, err := a.source.FetchChart(ctx, combinations[0], 1, time.Now().UTC()); err != nil {
		problems = append(problems, fmt.Sprintf("ranking feed: %v", err))
	} else {
		a.logger.Info("ranking feed reachable", "combination", combinations[0].String())
	}

	if _, _, err := a.store.LatestBatch(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("latest batch read: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("doctor found %d problem(s): %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}

// Daemon runs the pipeline on the configured interval until ctx is canceled.
func (a *Application) Daemon(ctx context.Context) error {
	if err := a.daemon.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	return a.daemon.Stop(context.Background())
}

// Close releases the cache store and the database handle.
func (a *Application) Close() error {
	var first error
	if err := a.cache.Close(); err != nil {
		first = err
	}
	if err := a.db.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func genreMap(categories []config.CategoryConfig) map[string]string {
	genres := make(map[string]string, len(categories))
	for _, c := range categories {
		genres[c.Name] = c.GenreID
	}
	return genres
}

// matrix expands the configured categories, countries, and charts into the
// full collection matrix, skipping chart names the domain does not know.
func matrix(cfg config.CollectionConfig) []domain.Combination {
	var out []domain.Combination
	for _, category := range cfg.Categories {
		for _, country := range cfg.Countries {
			for _, chart := range cfg.Charts {
				c := domain.Chart(strings.ToLower(chart))
				if !domain.ValidChart(c) {
					continue
				}
				out = append(out, domain.Combination{
					Category: category.Name,
					Country:  strings.ToLower(country),
					Chart:    c,
				})
			}
		}
	}
	return out
}
