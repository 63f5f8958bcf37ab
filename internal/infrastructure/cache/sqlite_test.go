package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Cyb3rEchos/trend-scout/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPageCacheTTL(t *testing.T) {
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	store := openTestStore(t)
	store.now = func() time.Time { return base }
	store.Put(PurposeHTML, "1234/us", []byte("<html>app</html>"))

	store.now = func() time.Time { return base.Add(23 * time.Hour) }
	payload, ok := store.Get(PurposeHTML, "1234/us", 24*time.Hour)
	if !ok {
		t.Fatal("expected hit 23h after write")
	}
	if string(payload) != "<html>app</html>" {
		t.Fatalf("payload changed: %q", payload)
	}

	store.now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, ok := store.Get(PurposeHTML, "1234/us", 24*time.Hour); ok {
		t.Fatal("expected miss 25h after write")
	}

	// The expired row was lazily evicted, so even a generous TTL misses now.
	store.now = func() time.Time { return base.Add(25*time.Hour + time.Minute) }
	if _, ok := store.Get(PurposeHTML, "1234/us", 1000*time.Hour); ok {
		t.Fatal("expected expired record to be evicted")
	}
}

func TestPutOverwrites(t *testing.T) {
	store := openTestStore(t)

	store.Put(PurposeHTML, "k", []byte("first"))
	store.Put(PurposeHTML, "k", []byte("second"))

	payload, ok := store.Get(PurposeHTML, "k", time.Hour)
	if !ok || string(payload) != "second" {
		t.Fatalf("expected last write to win, got %q (hit=%v)", payload, ok)
	}
}

func TestRankDelta(t *testing.T) {
	today := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	combo := domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartFree}

	store := openTestStore(t)
	store.now = func() time.Time { return today }

	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 20, AppID: "42", FetchedAt: today.AddDate(0, 0, -7),
	})
	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 10, AppID: "42", FetchedAt: today,
	})

	delta := store.RankDelta("42", combo, 7*24*time.Hour)
	if delta == nil {
		t.Fatal("expected a delta with two observations")
	}
	if *delta != -10 {
		t.Fatalf("expected delta -10 (improvement), got %d", *delta)
	}
}

func TestRankDeltaNeedsHistory(t *testing.T) {
	today := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	combo := domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartFree}

	store := openTestStore(t)
	store.now = func() time.Time { return today }

	if delta := store.RankDelta("42", combo, 7*24*time.Hour); delta != nil {
		t.Fatalf("expected nil delta without history, got %d", *delta)
	}

	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 10, AppID: "42", FetchedAt: today,
	})
	if delta := store.RankDelta("42", combo, 7*24*time.Hour); delta != nil {
		t.Fatalf("expected nil delta with a single observation, got %d", *delta)
	}

	// An observation outside the window does not count.
	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 25, AppID: "42", FetchedAt: today.AddDate(0, 0, -20),
	})
	if delta := store.RankDelta("42", combo, 7*24*time.Hour); delta != nil {
		t.Fatalf("expected stale observation to be ignored, got %d", *delta)
	}
}

func TestRankDeltaScopedToCombination(t *testing.T) {
	today := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)

	store := openTestStore(t)
	store.now = func() time.Time { return today }

	free := domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartFree}
	paid := domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartPaid}

	store.RecordRank(domain.RankingEntry{
		Category: free.Category, Country: free.Country, Chart: free.Chart,
		Rank: 20, AppID: "42", FetchedAt: today.AddDate(0, 0, -7),
	})
	store.RecordRank(domain.RankingEntry{
		Category: paid.Category, Country: paid.Country, Chart: paid.Chart,
		Rank: 10, AppID: "42", FetchedAt: today,
	})

	if delta := store.RankDelta("42", free, 7*24*time.Hour); delta != nil {
		t.Fatalf("observations from another chart must not mix, got %d", *delta)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	today := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	combo := domain.Combination{Category: "Utilities", Country: "US", Chart: domain.ChartFree}

	store := openTestStore(t)
	store.now = func() time.Time { return today }

	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 5, AppID: "42", FetchedAt: today.AddDate(0, 0, -45),
	})
	store.RecordRank(domain.RankingEntry{
		Category: combo.Category, Country: combo.Country, Chart: combo.Chart,
		Rank: 7, AppID: "42", FetchedAt: today.AddDate(0, 0, -3),
	})

	store.PurgeOlderThan(30)

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM rank_history`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 surviving observation, got %d", count)
	}
}

func TestDegradesWhenClosed(t *testing.T) {
	store := openTestStore(t)
	_ = store.Close()

	// No panics, no errors surfaced: a broken cache is an empty cache.
	store.Put(PurposeHTML, "k", []byte("v"))
	if _, ok := store.Get(PurposeHTML, "k", time.Hour); ok {
		t.Fatal("closed store must read as a miss")
	}
	store.RecordRank(domain.RankingEntry{AppID: "1", Chart: domain.ChartFree, Rank: 1})
	if delta := store.RankDelta("1", domain.Combination{Chart: domain.ChartFree}, time.Hour); delta != nil {
		t.Fatal("closed store must yield nil delta")
	}
	store.PurgeOlderThan(30)
}
