// Package scrape enriches ranking entries from their App Store detail pages.
// Pages are resolved through the local cache; extraction is best-effort and
// every missing field falls back to a neutral default.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
	"github.com/Cyb3rEchos/trend-scout/internal/infrastructure/cache"
	"github.com/Cyb3rEchos/trend-scout/internal/ports"
)

const (
	defaultBaseURL    = "https://apps.apple.com"
	defaultMaxRetries = 2
	defaultTTL        = 24 * time.Hour
	defaultWindow     = 7 * 24 * time.Hour
	maxPageBytes      = 3 << 20
	defaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxReviewSample   = 5
)

var (
	bundleIDExprs = []*regexp.Regexp{
		regexp.MustCompile(`\\"bundleId\\":\s*\\"([^"\\]+)\\"`),
		regexp.MustCompile(`"bundleId"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`data-bundle-id="([^"]+)"`),
	}
	ratingCountExprs = []*regexp.Regexp{
		regexp.MustCompile(`"ratingCount"\s*:\s*(\d+)`),
		regexp.MustCompile(`([\d,]+(?:\.\d+)?)([KkMm]?)\s+Ratings`),
	}
	ratingAvgExprs = []*regexp.Regexp{
		regexp.MustCompile(`"ratingValue"\s*:\s*"?(\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s+out of\s+5`),
	}
	// A currency-marked amount wins over any bare number in the text.
	currencyPriceExpr = regexp.MustCompile(`[$€£]\s*(\d+(?:\.\d+)?)`)
	priceExpr         = regexp.MustCompile(`\d+(?:\.\d+)?`)
	appIDMeta = regexp.MustCompile(`app-id=(\d+)`)
)

// Enricher resolves detail pages through the cache, extracts page data, and
// computes the trailing rank delta. Implements ports.Enricher.
type Enricher struct {
	httpClient  *http.Client
	cache       ports.AppCache
	baseURL     string
	limiter     *rate.Limiter
	maxRetries  int
	htmlTTL     time.Duration
	deltaWindow time.Duration
	userAgent   string
	logger      *slog.Logger
}

var _ ports.Enricher = (*Enricher)(nil)

// Options configures an Enricher; zero values pick production defaults.
type Options struct {
	BaseURL string
	// MinDelay is the pause between uncached page fetches. Cache hits are
	// never delayed.
	MinDelay    time.Duration
	MaxRetries  int
	HTMLTTL     time.Duration
	DeltaWindow time.Duration
	Logger      *slog.Logger
}

// NewEnricher wires the HTTP client and the shared cache store.
func NewEnricher(httpClient *http.Client, appCache ports.AppCache, opts Options) *Enricher {
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

	ttl := opts.HTMLTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	window := opts.DeltaWindow
	if window <= 0 {
		window = defaultWindow
	}

	limit := rate.Inf
	if opts.MinDelay > 0 {
		limit = rate.Every(opts.MinDelay)
	}

	return &Enricher{
		httpClient:  httpClient,
		cache:       appCache,
		baseURL:     baseURL,
		limiter:     rate.NewLimiter(limit, 1),
		maxRetries:  maxRetries,
		htmlTTL:     ttl,
		deltaWindow: window,
		userAgent:   defaultUserAgent,
		logger:      opts.Logger,
	}
}

// Enrich records today's rank observation, resolves the detail page, and
// attaches the 7-day delta. On fetch failure the returned entry carries
// neutral page data alongside the error; it must still proceed to scoring.
func (e *Enricher) Enrich(ctx context.Context, entry domain.RankingEntry) (domain.EnrichedEntry, error) {
	e.cache.RecordRank(entry)

	page, err := e.appPage(ctx, entry)
	if err != nil {
		page = neutralPage(entry.AppID)
	} else if vErr := page.Validate(); vErr != nil {
		page = neutralPage(entry.AppID)
		err = fmt.Errorf("invalid page data: %w", vErr)
	}

	enriched := domain.EnrichedEntry{
		RankingEntry: entry,
		AppPage:      page,
		RankDelta7d:  e.cache.RankDelta(entry.AppID, entry.Combination(), e.deltaWindow),
	}

	if err != nil {
		return enriched, fmt.Errorf("enrich %s: %w", entry.AppID, err)
	}
	return enriched, nil
}

func (e *Enricher) appPage(ctx context.Context, entry domain.RankingEntry) (domain.AppPage, error) {
	key := entry.AppID + "/" + strings.ToLower(entry.Country)

	if html, ok := e.cache.Get(cache.PurposeHTML, key, e.htmlTTL); ok {
		return ParseAppPage(html, entry.AppID), nil
	}

	operation := func() ([]byte, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return e.fetchPage(ctx, entry)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.maxRetries)),
		ctx,
	)

	html, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return domain.AppPage{}, err
	}

	e.cache.Put(cache.PurposeHTML, key, html)
	return ParseAppPage(html, entry.AppID), nil
}

func (e *Enricher) fetchPage(ctx context.Context, entry domain.RankingEntry) ([]byte, error) {
	pageURL := fmt.Sprintf("%s/%s/app/id%s", e.baseURL, strings.ToLower(entry.Country), entry.AppID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("app page returned %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}

	return html, nil
}

// ParseAppPage extracts page data from raw detail-page HTML. Extraction never
// fails: any field that cannot be found keeps its neutral default.
func ParseAppPage(html []byte, appID string) domain.AppPage {
	raw := string(html)
	page := neutralPage(appID)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		doc = nil
	}

	if bundleID := extractBundleID(raw, doc); bundleID != "" {
		page.BundleID = bundleID
	}
	page.Price = extractPrice(raw, doc)
	page.HasIAP = extractHasIAP(raw)
	page.RatingCount = extractRatingCount(raw)
	page.RatingAvg = extractRatingAvg(raw)
	page.Description = extractDescription(doc)
	page.DescLen = len(page.Description)
	page.RecentReviews = extractRecentReviews(doc)

	return page
}

// neutralPage is what a failed or empty extraction yields: free, no IAP, no
// ratings, synthetic bundle id.
func neutralPage(appID string) domain.AppPage {
	return domain.AppPage{BundleID: "com.unknown.app" + appID}
}

func extractBundleID(raw string, doc *goquery.Document) string {
	for _, expr := range bundleIDExprs {
		if match := expr.FindStringSubmatch(raw); match != nil {
			candidate := strings.TrimSpace(match[1])
			if strings.Contains(candidate, ".") {
				return candidate
			}
		}
	}

	if doc != nil {
		if content, ok := doc.Find(`meta[name="apple-itunes-app"]`).Attr("content"); ok {
			if match := appIDMeta.FindStringSubmatch(content); match != nil {
				return "app." + match[1]
			}
		}
	}

	return ""
}

func extractPrice(raw string, doc *goquery.Document) float64 {
	if doc != nil {
		// Structured data is the most reliable source when present.
		var price float64
		var found bool
		doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
			var data struct {
				Offers []struct {
					Price priceValue `json:"price"`
				} `json:"offers"`
			}
			if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
				return true
			}
			if len(data.Offers) == 0 {
				return true
			}
			price, found = float64(data.Offers[0].Price), true
			return false
		})
		if found {
			return price
		}

		for _, selector := range []string{
			`[data-test-bcc="price"]`,
			".app-header__list__item--price",
			".product-header__price",
		} {
			text := strings.TrimSpace(doc.Find(selector).First().Text())
			if text != "" {
				return parsePriceText(text)
			}
		}
	}

	return 0
}

func parsePriceText(text string) float64 {
	// Match the exact button labels; a substring test would misread text
	// like "Budget" or "Get 50% off $4.99" as free.
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "free" || lower == "get" {
		return 0
	}

	normalized := strings.ReplaceAll(text, ",", "")
	if match := currencyPriceExpr.FindStringSubmatch(normalized); match != nil {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			return v
		}
	}
	if match := priceExpr.FindString(normalized); match != "" {
		if v, err := strconv.ParseFloat(match, 64); err == nil {
			return v
		}
	}
	return 0
}

func extractHasIAP(raw string) bool {
	lower := strings.ToLower(raw)

	for _, negative := range []string{"no in-app purchases", "no iap"} {
		if strings.Contains(lower, negative) {
			return false
		}
	}

	for _, positive := range []string{
		"offers in-app purchases",
		"contains in-app purchases",
		"in-app purchases available",
		"in-app-purchase",
	} {
		if strings.Contains(lower, positive) {
			return true
		}
	}
	return false
}

func extractRatingCount(raw string) int {
	if match := ratingCountExprs[0].FindStringSubmatch(raw); match != nil {
		if v, err := strconv.Atoi(match[1]); err == nil {
			return v
		}
	}

	if match := ratingCountExprs[1].FindStringSubmatch(raw); match != nil {
		value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err != nil {
			return 0
		}
		switch strings.ToLower(match[2]) {
		case "k":
			value *= 1000
		case "m":
			value *= 1000000
		}
		return int(value)
	}

	return 0
}

func extractRatingAvg(raw string) float64 {
	for _, expr := range ratingAvgExprs {
		if match := expr.FindStringSubmatch(raw); match != nil {
			if v, err := strconv.ParseFloat(match[1], 64); err == nil && v >= 0 && v <= 5 {
				return v
			}
		}
	}
	return 0
}

func extractDescription(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}

	for _, selector := range []string{
		`[data-test-bcc="description"]`,
		".section__description",
		".app-header__description",
		".product-header__description",
	} {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// priceValue tolerates the page emitting prices as either JSON numbers or
// quoted strings.
type priceValue float64

func (p *priceValue) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}
	*p = priceValue(v)
	return nil
}

func extractRecentReviews(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}

	var reviews []string
	doc.Find(".we-customer-review__body").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(reviews) >= maxReviewSample {
			return false
		}
		text := strings.TrimSpace(s.Text())
		if len(text) > 10 {
			reviews = append(reviews, text)
		}
		return true
	})

	return reviews
}
