package storytracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, serverURL string) EngineConfig {
	t.Helper()
	dir := t.TempDir()

	config := fmt.Sprintf(`
database:
  path: %s
output:
  dir: %s
scraper:
  delayMs: 0
  maxRetries: 0
sources:
  - category: Education
    kind: html
    url: %s/education
    itemSelector: div.story
  - category: Health
    kind: html
    url: %s/health
    itemSelector: div.story
  - category: Housing
    kind: html
    url: %s/housing
    itemSelector: div.story
`, filepath.Join(dir, "test.db"), filepath.Join(dir, "digests"),
		serverURL, serverURL, serverURL)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return EngineConfig{ConfigPath: path}
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		section := strings.TrimPrefix(r.URL.Path, "/")
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 4; i++ {
			fmt.Fprintf(w, `<div class="story"><a href="/%s/story-%d">Local %s story number %d in depth</a></div>`,
				section, i, section, i)
		}
		fmt.Fprint(w, "</body></html>")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	srv := listingServer(t)
	engine, err := NewEngine(writeTestConfig(t, srv.URL))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestEngineEndToEnd(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	stats, err := engine.CollectAll(ctx)
	if err != nil {
		t.Fatalf("CollectAll: %v", err)
	}
	if stats.Added != 12 {
		t.Errorf("Added = %d, want 12", stats.Added)
	}

	if err := engine.Subscribe("Pat@Example.com", [3]string{"Education", "Health", "Housing"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subs, err := engine.ListSubscribers()
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Email != "pat@example.com" {
		t.Fatalf("subscribers = %+v", subs)
	}

	preview, err := engine.PreviewDigest("pat@example.com")
	if err != nil {
		t.Fatalf("PreviewDigest: %v", err)
	}
	if !strings.Contains(preview, "pat@example.com") {
		t.Error("preview does not name the subscriber")
	}

	report, err := engine.RunCampaign(ctx, "manual")
	if err != nil {
		t.Fatalf("RunCampaign: %v", err)
	}
	if report.EmailsGenerated != 1 || report.Failures != 0 {
		t.Fatalf("report = %+v", report)
	}

	history, err := engine.DeliveryHistory("pat@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("ledger rows = %d, want 3", len(history))
	}

	campaigns, err := engine.RecentCampaigns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(campaigns) != 1 || campaigns[0].FinishedAt == nil {
		t.Fatalf("campaigns = %+v", campaigns)
	}

	// second collection pass sees nothing new
	stats, err = engine.CollectAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Added != 0 || stats.Skipped != 12 {
		t.Errorf("second pass stats = %+v", stats)
	}
}

func TestEngineSubscribeValidation(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.Subscribe("pat@example.com", [3]string{"Education", "Astrology", "Health"}); err == nil {
		t.Error("expected error for unknown topic")
	}
	if err := engine.Subscribe("  ", [3]string{"Education", "Health", "Housing"}); err == nil {
		t.Error("expected error for empty email")
	}

	// the three topics form a set
	if err := engine.Subscribe("pat@example.com", [3]string{"Education", "Education", "Health"}); err == nil {
		t.Error("expected error for duplicate topic")
	}
	if _, err := engine.GetSubscriber("pat@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rejected subscription was stored: %v", err)
	}
}

func TestEngineUnsubscribeKeepsLedger(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CollectAll(ctx); err != nil {
		t.Fatal(err)
	}
	if err := engine.Subscribe("pat@example.com", [3]string{"Education", "Health", "Housing"}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RunCampaign(ctx, "manual"); err != nil {
		t.Fatal(err)
	}

	if err := engine.Unsubscribe("pat@example.com"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	subs, err := engine.ListSubscribers()
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("active subscribers = %d, want 0", len(subs))
	}

	history, err := engine.DeliveryHistory("pat@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("ledger rows = %d after unsubscribe, want 3", len(history))
	}
}

func TestEngineExcludeArticle(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CollectAll(ctx); err != nil {
		t.Fatal(err)
	}

	articles, err := engine.ListArticles(1)
	if err != nil || len(articles) != 1 {
		t.Fatalf("ListArticles: %v %d", err, len(articles))
	}

	fp := articles[0].Fingerprint
	if err := engine.ExcludeArticle(fp); err != nil {
		t.Fatalf("ExcludeArticle: %v", err)
	}

	articles, err = engine.ListArticles(50)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range articles {
		if a.Fingerprint == fp && !a.Excluded {
			t.Error("article not marked excluded")
		}
	}

	if err := engine.IncludeArticle(fp); err != nil {
		t.Fatalf("IncludeArticle: %v", err)
	}

	if err := engine.ExcludeArticle("no-such-fingerprint"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEngineUpdatePreferences(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.UpdatePreferences("nobody@example.com", [3]string{"Education", "Health", "Housing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := engine.Subscribe("pat@example.com", [3]string{"Education", "Health", "Housing"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.UpdatePreferences("pat@example.com", [3]string{"Energy", "Transportation", "Agriculture"}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	sub, err := engine.GetSubscriber("pat@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Topics != [3]string{"Energy", "Transportation", "Agriculture"} {
		t.Errorf("topics = %v", sub.Topics)
	}

	// changing topics is not a back door for reactivation
	if err := engine.Unsubscribe("pat@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := engine.UpdatePreferences("pat@example.com", [3]string{"Education", "Health", "Housing"}); err == nil {
		t.Error("expected error updating an unsubscribed address")
	}
	sub, err = engine.GetSubscriber("pat@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Active {
		t.Error("unsubscribed address was reactivated")
	}
	if sub.Topics != [3]string{"Energy", "Transportation", "Agriculture"} {
		t.Errorf("topics changed on inactive subscriber: %v", sub.Topics)
	}
}

func TestEngineListEligible(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.CollectAll(ctx); err != nil {
		t.Fatal(err)
	}

	articles, err := engine.ListEligible("Education", 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(articles) != 4 {
		t.Errorf("eligible = %d, want 4", len(articles))
	}

	if _, err := engine.ListEligible("Astrology", 0); err == nil {
		t.Error("expected error for unknown topic")
	}
}

func TestEngineCleanupEmpty(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.ArticlesPurged != 0 {
		t.Errorf("ArticlesPurged = %d, want 0", result.ArticlesPurged)
	}
}

func TestEngineTriggerJob(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	if err := engine.TriggerScrapeNow(ctx); err != nil {
		t.Fatalf("TriggerScrapeNow: %v", err)
	}

	articles, err := engine.ListArticles(50)
	if err != nil {
		t.Fatal(err)
	}
	if len(articles) != 12 {
		t.Errorf("articles after trigger = %d, want 12", len(articles))
	}

	if err := engine.TriggerJob(ctx, "no-such-job"); err == nil {
		t.Error("expected error for unknown job")
	}

	jobs := engine.Jobs()
	if len(jobs) != 3 {
		t.Errorf("jobs = %d, want 3", len(jobs))
	}
}

func TestTopics(t *testing.T) {
	topics := Topics()
	if len(topics) != 22 {
		t.Fatalf("topics = %d, want 22", len(topics))
	}
	if topics[0] != "Education" {
		t.Errorf("topics[0] = %s", topics[0])
	}

	// callers must not be able to mutate the canonical list
	topics[0] = "Tampered"
	if Topics()[0] != "Education" {
		t.Error("canonical topic list was mutated")
	}
}
