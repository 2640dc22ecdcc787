package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/storytracker/storytracker/internal/storage"
)

// fetchClient performs all outbound HTTP for the scraper: one shared client,
// a minimum delay between fetches, and a bounded retry policy. Politeness is
// enforced here so no source can bypass it.
type fetchClient struct {
	http      *http.Client
	userAgent string
	retry     RetryPolicy
	delay     time.Duration

	mu        sync.Mutex
	lastFetch time.Time
}

func (c *fetchClient) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := c.delay - time.Since(c.lastFetch)
	c.lastFetch = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fetchClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		if err := c.pace(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request for %s: %w", rawURL, err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return &FetchError{URL: rawURL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &FetchError{URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{URL: rawURL, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// source produces candidates for one category.
type source interface {
	Category() string
	Candidates(ctx context.Context, c *fetchClient) ([]Candidate, error)
}

func newSource(cfg storage.SourceConfig) (source, error) {
	switch cfg.Kind {
	case "html":
		return &htmlSource{cfg: cfg}, nil
	case "rss":
		return &rssSource{cfg: cfg, parser: gofeed.NewParser()}, nil
	default:
		return nil, fmt.Errorf("unknown source kind %q for category %s", cfg.Kind, cfg.Category)
	}
}

// htmlSource scrapes a listing page with configured CSS selectors. The item
// selector matches anchors (or elements containing one); the title comes from
// the optional title selector or the anchor text.
type htmlSource struct {
	cfg storage.SourceConfig
}

func (s *htmlSource) Category() string { return s.cfg.Category }

func (s *htmlSource) Candidates(ctx context.Context, c *fetchClient) ([]Candidate, error) {
	body, err := c.get(ctx, s.cfg.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", s.cfg.URL, err)
	}

	base, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", s.cfg.URL, err)
	}

	itemSelector := s.cfg.ItemSelector
	if itemSelector == "" {
		itemSelector = "a[href]"
	}

	var candidates []Candidate
	doc.Find(itemSelector).Each(func(_ int, sel *goquery.Selection) {
		link := sel
		if !sel.Is("a") {
			link = sel.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		title := link.Text()
		if s.cfg.TitleSelector != "" {
			if t := sel.Find(s.cfg.TitleSelector).First().Text(); t != "" {
				title = t
			}
		}

		candidates = append(candidates, Candidate{
			Title:    CleanTitle(title),
			URL:      base.ResolveReference(ref).String(),
			Category: s.cfg.Category,
		})
	})

	return candidates, nil
}

// rssSource parses a category feed.
type rssSource struct {
	cfg    storage.SourceConfig
	parser *gofeed.Parser
}

func (s *rssSource) Category() string { return s.cfg.Category }

func (s *rssSource) Candidates(ctx context.Context, c *fetchClient) ([]Candidate, error) {
	body, err := c.get(ctx, s.cfg.URL)
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", s.cfg.URL, err)
	}

	var candidates []Candidate
	for _, item := range feed.Items {
		cand := Candidate{
			Title:    CleanTitle(item.Title),
			URL:      item.Link,
			Category: s.cfg.Category,
		}
		if item.PublishedParsed != nil {
			cand.PublishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			cand.PublishedAt = *item.UpdatedParsed
		}
		candidates = append(candidates, cand)
	}

	return candidates, nil
}
