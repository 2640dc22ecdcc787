package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/storytracker/storytracker/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func listingPage(base string) string {
	return fmt.Sprintf(`<html><body>
		<div class="story"><a href="%s/education/tutoring-program-expands">District expands tutoring program</a></div>
		<div class="story"><a href="/education/budget-vote-scheduled?utm_source=home">School budget vote scheduled for spring</a></div>
		<div class="story"><a href="/education/x">Too short</a></div>
	</body></html>`, base)
}

func testConfig(sources ...storage.SourceConfig) *storage.Config {
	cfg := storage.DefaultConfig()
	cfg.Scraper.DelayMs = 0
	cfg.Scraper.MaxRetries = 0
	cfg.Sources = sources
	return cfg
}

func TestCollectHTMLListing(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage(srv.URL))
	}))
	defer srv.Close()

	store := testStore(t)
	scraper, err := NewScraper(store, testConfig(storage.SourceConfig{
		Category:     "Education",
		Kind:         "html",
		URL:          srv.URL + "/education",
		ItemSelector: "div.story",
	}))
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.Collect(context.Background(), "Education")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.Added != 2 {
		t.Errorf("Added = %d, want 2", stats.Added)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}

	articles, err := store.ListEligible("Education", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 2 {
		t.Fatalf("stored %d articles, want 2", len(articles))
	}
	for _, a := range articles {
		if a.Category != "Education" {
			t.Errorf("article %s has category %q", a.Fingerprint, a.Category)
		}
		if a.Outlet == "" {
			t.Errorf("article %s has empty outlet", a.Fingerprint)
		}
	}
}

func TestCollectSecondRunSkipsDuplicates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage(srv.URL))
	}))
	defer srv.Close()

	store := testStore(t)
	scraper, err := NewScraper(store, testConfig(storage.SourceConfig{
		Category:     "Education",
		Kind:         "html",
		URL:          srv.URL + "/education",
		ItemSelector: "div.story",
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := scraper.Collect(context.Background(), "Education"); err != nil {
		t.Fatal(err)
	}
	stats, err := scraper.Collect(context.Background(), "Education")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 0 {
		t.Errorf("second run Added = %d, want 0", stats.Added)
	}
	if stats.Skipped != 2 {
		t.Errorf("second run Skipped = %d, want 2", stats.Skipped)
	}
}

func TestCollectRSSSource(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Health Desk</title>
<item><title>County clinic adds weekend hours</title><link>https://example.com/health/clinic-hours</link></item>
<item><title>New mental health hotline launches</title><link>https://example.com/health/hotline</link></item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	store := testStore(t)
	scraper, err := NewScraper(store, testConfig(storage.SourceConfig{
		Category: "Health",
		Kind:     "rss",
		URL:      srv.URL + "/feed.xml",
	}))
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.Collect(context.Background(), "Health")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 2 {
		t.Errorf("Added = %d, want 2", stats.Added)
	}
}

func TestCollectRespectsPerCategoryCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<a class="item" href="/housing/story-%d">Housing development story number %d</a>`, i, i)
		}
		fmt.Fprint(w, "</body></html>")
	}))
	defer srv.Close()

	store := testStore(t)
	cfg := testConfig(storage.SourceConfig{
		Category:     "Housing",
		Kind:         "html",
		URL:          srv.URL,
		ItemSelector: "a.item",
	})
	cfg.Scraper.MaxPerCategory = 3

	scraper, err := NewScraper(store, cfg)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.Collect(context.Background(), "Housing")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 3 {
		t.Errorf("Added = %d, want 3", stats.Added)
	}
}

func TestCollectUnknownCategory(t *testing.T) {
	store := testStore(t)
	scraper, err := NewScraper(store, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	_, err = scraper.Collect(context.Background(), "Astrology")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCollectRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, listingPage(srv.URL))
	}))
	defer srv.Close()

	store := testStore(t)
	cfg := testConfig(storage.SourceConfig{
		Category:     "Education",
		Kind:         "html",
		URL:          srv.URL,
		ItemSelector: "div.story",
	})
	cfg.Scraper.MaxRetries = 2

	scraper, err := NewScraper(store, cfg)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.Collect(context.Background(), "Education")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if stats.Added != 2 {
		t.Errorf("Added = %d, want 2", stats.Added)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
}

func TestCollectIsolatesSourceFailures(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, listingPage(srv.URL))
	}))
	defer srv.Close()

	store := testStore(t)
	scraper, err := NewScraper(store, testConfig(
		storage.SourceConfig{Category: "Education", Kind: "html", URL: srv.URL + "/broken", ItemSelector: "div.story"},
		storage.SourceConfig{Category: "Education", Kind: "html", URL: srv.URL + "/ok", ItemSelector: "div.story"},
	))
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.Collect(context.Background(), "Education")
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if stats.Added != 2 {
		t.Errorf("Added = %d, want 2 from the healthy source", stats.Added)
	}
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (one dead source, one short title)", stats.Failed)
	}
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, listingPage(srv.URL))
	}))
	defer srv.Close()

	store := testStore(t)
	scraper, err := NewScraper(store, testConfig(
		storage.SourceConfig{Category: "Education", Kind: "html", URL: srv.URL + "/broken", ItemSelector: "div.story"},
		storage.SourceConfig{Category: "Health", Kind: "html", URL: srv.URL + "/ok", ItemSelector: "div.story"},
	))
	if err != nil {
		t.Fatal(err)
	}

	stats, err := scraper.CollectAll(context.Background())
	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want FetchError", err)
	}
	if stats.Added != 2 {
		t.Errorf("Added = %d, want 2 from the healthy category", stats.Added)
	}
}
