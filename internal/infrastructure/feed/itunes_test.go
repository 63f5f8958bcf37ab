package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
)

const sampleFeed = `{
  "feed": {
    "entry": [
      {"im:name": {"label": "QR Scanner"}, "id": {"label": "https://apps.apple.com/us/app/qr/id111", "attributes": {"im:id": "111"}}},
      {"im:name": {"label": "Sleep Timer"}, "id": {"label": "https://apps.apple.com/us/app/timer/id222", "attributes": {"im:id": ""}}},
      {"im:name": {"label": "Collage Maker"}, "id": {"label": "https://apps.apple.com/us/app/collage/id333", "attributes": {"im:id": "333"}}}
    ]
  }
}`

var testGenres = map[string]string{"Utilities": "6002"}

func testCombo() domain.Combination {
	return domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartFree}
}

func TestFetchChartParsesEntries(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres})

	fetchedAt := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	entries, err := client.FetchChart(context.Background(), testCombo(), 25, fetchedAt)
	if err != nil {
		t.Fatalf("FetchChart error: %v", err)
	}

	if gotPath != "/us/rss/topfreeapplications/limit=25/genre=6002/json" {
		t.Fatalf("unexpected feed path: %s", gotPath)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	for i, entry := range entries {
		if entry.Rank != i+1 {
			t.Fatalf("ranks must increase strictly from 1, got %d at index %d", entry.Rank, i)
		}
		if !entry.FetchedAt.Equal(fetchedAt) {
			t.Fatalf("entry %d lost the shared batch timestamp", i)
		}
		if err := entry.Validate(); err != nil {
			t.Fatalf("entry %d invalid: %v", i, err)
		}
	}

	if entries[0].AppID != "111" {
		t.Fatalf("expected attribute app id, got %s", entries[0].AppID)
	}
	// Second entry has an empty im:id attribute; the id comes from the URL.
	if entries[1].AppID != "222" {
		t.Fatalf("expected app id extracted from URL, got %s", entries[1].AppID)
	}
	if entries[1].Name != "Sleep Timer" {
		t.Fatalf("unexpected name: %s", entries[1].Name)
	}
}

func TestFetchChartRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres, MaxRetries: 2})

	entries, err := client.FetchChart(context.Background(), testCombo(), 25, time.Now().UTC())
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after retry, got %d", len(entries))
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", calls.Load())
	}
}

func TestFetchChartDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres, MaxRetries: 3})

	if _, err := client.FetchChart(context.Background(), testCombo(), 25, time.Now().UTC()); err == nil {
		t.Fatal("expected error on 404")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 must not be retried, got %d requests", calls.Load())
	}
}

func TestFetchChartRetriesParseErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"feed": broken`))
			return
		}
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres, MaxRetries: 2})

	if _, err := client.FetchChart(context.Background(), testCombo(), 25, time.Now().UTC()); err != nil {
		t.Fatalf("parse error should be retried like a flaky response: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
}

func TestFetchChartRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	client := NewClient(nil, Options{Genres: testGenres})
	combo := domain.Combination{Category: "Games", Country: "US", Chart: domain.ChartFree}

	if _, err := client.FetchChart(context.Background(), combo, 25, time.Now().UTC()); err == nil {
		t.Fatal("expected error for unmapped category")
	}
}

func TestFetchChartTruncatesToTopN(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres})

	entries, err := client.FetchChart(context.Background(), testCombo(), 2, time.Now().UTC())
	if err != nil {
		t.Fatalf("FetchChart error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestExtractAppID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://apps.apple.com/us/app/thing/id12345": "12345",
		"https://itunes.apple.com/app?app-id=678":     "678",
		"":    "",
		"x/y": "",
	}

	for input, want := range cases {
		if got := extractAppID(input); got != want {
			t.Fatalf("extractAppID(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestEntryListAcceptsSingleObject(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feed": {"entry": {"im:name": {"label": "Solo"}, "id": {"label": "https://apps.apple.com/us/app/solo/id999", "attributes": {"im:id": "999"}}}}}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), Options{BaseURL: server.URL, Genres: testGenres})

	entries, err := client.FetchChart(context.Background(), testCombo(), 25, time.Now().UTC())
	if err != nil {
		t.Fatalf("FetchChart error: %v", err)
	}
	if len(entries) != 1 || entries[0].AppID != "999" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
