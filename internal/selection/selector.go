// Package selection picks the articles that go into one subscriber's digest.
//
// Each digest carries three articles. Every slot is anchored to one of the
// subscriber's preferred topics and filled with the newest eligible article
// that subscriber has never been sent. When a topic has nothing left, the
// slot falls back: first to the subscriber's other preferred topics, then to
// the remaining categories in canonical order, drawing from each non-preferred
// category at most once per digest.
package selection

import (
	"fmt"

	"github.com/storytracker/storytracker/internal/storage"
)

// DigestSize is the number of articles in every digest.
const DigestSize = 3

// SelectionError reports that a subscriber could not be given a full digest.
// Found carries how many articles were available.
type SelectionError struct {
	Email string
	Found int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("only %d of %d articles available for %s", e.Found, DigestSize, e.Email)
}

// Picks is a full digest selection. FromFallback marks slots that were not
// filled from their own preferred topic, so the rendered digest can say so.
type Picks struct {
	Articles     [DigestSize]storage.Article
	FromFallback [DigestSize]bool
}

type Selector struct {
	store           *storage.Store
	fallbackEnabled bool
}

func NewSelector(store *storage.Store, fallbackEnabled bool) *Selector {
	return &Selector{store: store, fallbackEnabled: fallbackEnabled}
}

// Select builds the digest for one subscriber. The returned articles are
// pairwise distinct by fingerprint and none has ever appeared in the
// subscriber's delivery ledger.
func (s *Selector) Select(sub *storage.Subscriber) (*Picks, error) {
	sent, err := s.store.SentFingerprints(sub.Email)
	if err != nil {
		return nil, err
	}

	preferred := make([]string, 0, len(sub.Topics))
	isPreferred := make(map[string]bool)
	for _, topic := range sub.Topics {
		if topic != "" && !isPreferred[topic] {
			preferred = append(preferred, topic)
			isPreferred[topic] = true
		}
	}

	pools := make(map[string][]storage.Article)
	pool := func(category string) ([]storage.Article, error) {
		if p, ok := pools[category]; ok {
			return p, nil
		}
		articles, err := s.store.ListEligible(category, -1)
		if err != nil {
			return nil, err
		}
		pools[category] = articles
		return articles, nil
	}

	chosen := make(map[string]bool)

	// draw pops the newest article from the category that the subscriber has
	// neither been sent nor already been given in this digest.
	draw := func(category string) (*storage.Article, error) {
		articles, err := pool(category)
		if err != nil {
			return nil, err
		}
		for i, a := range articles {
			if sent[a.Fingerprint] || chosen[a.Fingerprint] {
				continue
			}
			pools[category] = articles[i+1:]
			return &a, nil
		}
		pools[category] = nil
		return nil, nil
	}

	var picks Picks
	fallbackUsed := make(map[string]bool)
	found := 0

	for slot := 0; slot < DigestSize; slot++ {
		anchor := ""
		if slot < len(preferred) {
			anchor = preferred[slot]
		}

		var article *storage.Article
		if anchor != "" {
			article, err = draw(anchor)
			if err != nil {
				return nil, err
			}
		}

		if article == nil && s.fallbackEnabled {
			for _, topic := range preferred {
				if topic == anchor {
					continue
				}
				article, err = draw(topic)
				if err != nil {
					return nil, err
				}
				if article != nil {
					break
				}
			}
			if article == nil {
				for _, category := range storage.Topics() {
					if isPreferred[category] || fallbackUsed[category] {
						continue
					}
					article, err = draw(category)
					if err != nil {
						return nil, err
					}
					if article != nil {
						fallbackUsed[category] = true
						break
					}
				}
			}
		}

		if article == nil {
			return nil, &SelectionError{Email: sub.Email, Found: found}
		}

		chosen[article.Fingerprint] = true
		picks.Articles[slot] = *article
		picks.FromFallback[slot] = article.Category != anchor
		found++
	}

	return &picks, nil
}
