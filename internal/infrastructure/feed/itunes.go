// Package feed collects Apple App Store chart rankings from the iTunes RSS
// JSON endpoint, one request per (category, country, chart) combination.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

const (
	defaultBaseURL    = "https://itunes.apple.com"
	defaultMaxRetries = 3
	defaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var appIDExprs = []*regexp.Regexp{
	regexp.MustCompile(`/id(\d+)`),
	regexp.MustCompile(`app-id=(\d+)`),
	regexp.MustCompile(`id(\d+)`),
}

// Client fetches ranking charts. It enforces a minimum delay between
// consecutive feed requests and retries transient failures with exponential
// backoff before giving up on a combination.
type Client struct {
	httpClient *http.Client
	baseURL    string
	genres     map[string]string
	limiter    *rate.Limiter
	maxRetries int
	userAgent  string
	logger     *slog.Logger
}

var _ ports.ChartSource = (*Client)(nil)

// Options configures a feed client; zero values pick production defaults.
type Options struct {
	// BaseURL overrides the iTunes endpoint, used by tests.
	BaseURL string
	// Genres maps category names to iTunes genre ids.
	Genres map[string]string
	// MinDelay is the pause enforced between consecutive feed requests.
	MinDelay   time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// NewClient wires an HTTP client; nil picks a 10s-timeout default.
func NewClient(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	limit := rate.Inf
	if opts.MinDelay > 0 {
		limit = rate.Every(opts.MinDelay)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		genres:     opts.Genres,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: maxRetries,
		userAgent:  defaultUserAgent,
		logger:     opts.Logger,
	}
}

// FetchChart returns up to topN ranking entries for one combination. Rank
// values follow the feed position, unique and strictly increasing. The caller
// supplies fetchedAt so the whole batch shares one timestamp.
func (c *Client) FetchChart(ctx context.Context, combo domain.Combination, topN int, fetchedAt time.Time) ([]domain.RankingEntry, error) {
	if !domain.ValidChart(combo.Chart) {
		return nil, fmt.Errorf("invalid chart %q", combo.Chart)
	}

	genreID, ok := c.genres[combo.Category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", combo.Category)
	}

	feedURL := c.buildFeedURL(combo, genreID, topN)

	operation := func() ([]feedEntry, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return c.fetchEntries(ctx, feedURL)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)

	entries, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return nil, fmt.Errorf("fetch chart %s: %w", combo, err)
	}

	results := make([]domain.RankingEntry, 0, len(entries))
	for i, entry := range entries {
		if i >= topN {
			break
		}

		appID := entry.appID()
		if appID == "" {
			c.debug("dropping entry without app id", "combo", combo.String(), "rank", i+1, "url", entry.ID.Label)
			continue
		}

		results = append(results, domain.RankingEntry{
			Category:  combo.Category,
			Country:   combo.Country,
			Chart:     combo.Chart,
			Rank:      i + 1,
			AppID:     appID,
			Name:      entry.Name.Label,
			FeedURL:   feedURL,
			FetchedAt: fetchedAt,
		})
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("feed %s yielded no usable entries", combo)
	}

	return results, nil
}

func (c *Client) buildFeedURL(combo domain.Combination, genreID string, topN int) string {
	chartSegment := "topfreeapplications"
	if combo.Chart == domain.ChartPaid {
		chartSegment = "toppaidapplications"
	}

	country := strings.ToLower(combo.Country)
	if genreID == "" {
		return fmt.Sprintf("%s/%s/rss/%s/limit=%d/json", c.baseURL, country, chartSegment, topN)
	}
	return fmt.Sprintf("%s/%s/rss/%s/limit=%d/genre=%s/json", c.baseURL, country, chartSegment, topN, genreID)
}

// fetchEntries performs one request and decode attempt. Schema drift in the
// response is indistinguishable from a flaky reply at this layer, so parse
// failures are retried like transient network errors.
func (c *Client) fetchEntries(ctx context.Context, feedURL string) ([]feedEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("feed returned %s", resp.Status)
		if retryableStatus(resp.StatusCode) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var doc feedDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	if len(doc.Feed.Entry) == 0 {
		return nil, fmt.Errorf("feed contains no entries")
	}

	return doc.Feed.Entry, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

type feedDocument struct {
	Feed struct {
		Entry entryList `json:"entry"`
	} `json:"feed"`
}

type feedLabel struct {
	Label string `json:"label"`
}

type feedEntry struct {
	Name feedLabel `json:"im:name"`
	ID   struct {
		Label      string `json:"label"`
		Attributes struct {
			ID string `json:"im:id"`
		} `json:"attributes"`
	} `json:"id"`
}

func (e feedEntry) appID() string {
	if e.ID.Attributes.ID != "" {
		return e.ID.Attributes.ID
	}
	return extractAppID(e.ID.Label)
}

func extractAppID(appURL string) string {
	if appURL == "" {
		return ""
	}
	for _, expr := range appIDExprs {
		if match := expr.FindStringSubmatch(appURL); match != nil {
			return match[1]
		}
	}
	return ""
}

// entryList tolerates the endpoint collapsing a single-entry feed into a bare
// object instead of an array.
type entryList []feedEntry

func (e *entryList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var entries []feedEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*e = entries
		return nil
	}

	var single feedEntry
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*e = entryList{single}
	return nil
}
