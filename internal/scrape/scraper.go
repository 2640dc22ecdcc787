package scrape

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/storytracker/storytracker/internal/storage"
)

// CollectStats summarizes one collection pass.
type CollectStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s CollectStats) add(other CollectStats) CollectStats {
	return CollectStats{
		Added:   s.Added + other.Added,
		Skipped: s.Skipped + other.Skipped,
		Failed:  s.Failed + other.Failed,
	}
}

// Scraper collects candidate articles from configured sources and stores the
// ones that survive validation and fingerprint deduplication.
type Scraper struct {
	store          *storage.Store
	client         *fetchClient
	sources        []source
	maxPerCategory int
	now            func() time.Time
}

func NewScraper(store *storage.Store, cfg *storage.Config) (*Scraper, error) {
	sources := make([]source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := newSource(sc)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	return &Scraper{
		store: store,
		client: &fetchClient{
			http:      &http.Client{Timeout: time.Duration(cfg.Scraper.TimeoutSec) * time.Second},
			userAgent: cfg.Scraper.UserAgent,
			retry: RetryPolicy{
				MaxAttempts: cfg.Scraper.MaxRetries + 1,
				Backoff:     time.Duration(cfg.Scraper.DelayMs) * time.Millisecond,
			},
			delay: time.Duration(cfg.Scraper.DelayMs) * time.Millisecond,
		},
		sources:        sources,
		maxPerCategory: cfg.Scraper.MaxPerCategory,
		now:            time.Now,
	}, nil
}

// Collect runs every source configured for the category and stores new
// articles, up to the per-category cap. Candidates that fail validation are
// counted and skipped; a storage failure aborts the pass.
func (s *Scraper) Collect(ctx context.Context, category string) (CollectStats, error) {
	if !storage.ValidTopic(category) {
		return CollectStats{}, &ValidationError{Reason: fmt.Sprintf("unknown category %q", category)}
	}

	var stats CollectStats
	var firstErr error
	found := false
	for _, src := range s.sources {
		if src.Category() != category {
			continue
		}
		found = true

		st, err := s.collectSource(ctx, src, s.maxPerCategory-stats.Added)
		stats = stats.add(st)
		if err != nil {
			// only storage loss or cancellation aborts; a failing source
			// never blocks the category's remaining sources
			var serr *storage.StoreError
			if errors.As(err, &serr) || ctx.Err() != nil {
				return stats, err
			}
			log.Printf("storytracker: source failed for %s: %v", category, err)
			stats.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if stats.Added >= s.maxPerCategory {
			break
		}
	}

	if !found {
		log.Printf("storytracker: no sources configured for category %s", category)
	}
	return stats, firstErr
}

func (s *Scraper) collectSource(ctx context.Context, src source, budget int) (CollectStats, error) {
	var stats CollectStats
	if budget <= 0 {
		return stats, nil
	}

	candidates, err := src.Candidates(ctx, s.client)
	if err != nil {
		return stats, err
	}

	for _, cand := range candidates {
		if stats.Added >= budget {
			break
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := cand.Validate(); err != nil {
			log.Printf("storytracker: dropping candidate %s: %v", cand.URL, err)
			stats.Failed++
			continue
		}

		fp, err := Fingerprint(cand.URL)
		if err != nil {
			log.Printf("storytracker: dropping candidate %s: %v", cand.URL, err)
			stats.Failed++
			continue
		}

		seen, err := s.store.HasArticle(fp)
		if err != nil {
			return stats, err
		}
		if seen {
			stats.Skipped++
			continue
		}

		collectedAt := cand.PublishedAt
		if collectedAt.IsZero() {
			collectedAt = s.now()
		}

		inserted, err := s.store.AddArticle(&storage.Article{
			Fingerprint: fp,
			Title:       cand.Title,
			URL:         cand.URL,
			Outlet:      OutletFromURL(cand.URL),
			Category:    cand.Category,
			CollectedAt: collectedAt.UTC(),
		})
		if err != nil {
			return stats, err
		}
		if inserted {
			stats.Added++
		} else {
			stats.Skipped++
		}
	}

	return stats, nil
}

// CollectAll runs a collection pass for every configured category. A failing
// category is logged and does not stop the others; the error returned is the
// first failure, if any, after all categories have run.
func (s *Scraper) CollectAll(ctx context.Context) (CollectStats, error) {
	seen := make(map[string]bool)
	var categories []string
	for _, src := range s.sources {
		if !seen[src.Category()] {
			seen[src.Category()] = true
			categories = append(categories, src.Category())
		}
	}

	var total CollectStats
	var firstErr error
	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}

		stats, err := s.Collect(ctx, category)
		total = total.add(stats)
		if err != nil {
			log.Printf("storytracker: collection failed for %s: %v", category, err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return total, firstErr
}
