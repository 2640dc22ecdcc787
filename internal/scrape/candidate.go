package scrape

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/storytracker/storytracker/internal/storage"
)

// Candidate is a raw article sighting produced by a collector, before
// validation and dedup.
type Candidate struct {
	Title       string
	URL         string
	Category    string
	PublishedAt time.Time
}

// ValidationError marks a malformed candidate. These are dropped and counted,
// never retried.
type ValidationError struct {
	Reason string
	URL    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate %s: %s", e.URL, e.Reason)
}

const minTitleLength = 10

var titlePolicy = bluemonday.StrictPolicy()

var titlePrefixes = []string{"Story: ", "Article: ", "News: "}

// CleanTitle strips markup and noise from a scraped title: HTML removed,
// whitespace collapsed, boilerplate prefixes dropped.
func CleanTitle(title string) string {
	title = titlePolicy.Sanitize(title)
	title = strings.Join(strings.Fields(title), " ")
	for _, prefix := range titlePrefixes {
		title = strings.TrimPrefix(title, prefix)
	}
	return strings.TrimSpace(title)
}

// Validate checks the candidate's required fields: a usable title, a known
// category, and an absolute http(s) URL.
func (c *Candidate) Validate() error {
	if len(c.Title) < minTitleLength {
		return &ValidationError{Reason: "title too short", URL: c.URL}
	}
	if !storage.ValidTopic(c.Category) {
		return &ValidationError{Reason: fmt.Sprintf("unknown category %q", c.Category), URL: c.URL}
	}
	u, err := url.Parse(c.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Reason: "unreachable url", URL: c.URL}
	}
	return nil
}

// outletNames maps well-known hosts to display names; everything else falls
// back to a title-cased first label of the domain.
var outletNames = map[string]string{
	"nytimes":        "The New York Times",
	"washingtonpost": "The Washington Post",
	"cnn":            "CNN",
	"bbc":            "BBC",
	"npr":            "NPR",
	"reuters":        "Reuters",
	"ap":             "Associated Press",
	"apnews":         "Associated Press",
	"usatoday":       "USA Today",
}

// OutletFromURL derives a human-readable outlet name from an article URL.
func OutletFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return ""
	}
	if name, ok := outletNames[label]; ok {
		return name
	}

	words := strings.Split(strings.ReplaceAll(label, "-", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
