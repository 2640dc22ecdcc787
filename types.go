package storytracker

import (
	"time"

	"github.com/storytracker/storytracker/internal/storage"
)

// EngineConfig configures the StoryTracker engine. Zero values fall back to
// the built-in defaults; ConfigPath, when set, loads a YAML config file first
// and the remaining fields override it.
type EngineConfig struct {
	ConfigPath string
	DBPath     string
	OutputDir  string
}

// Article is a collected story, identified by the fingerprint of its
// canonicalized URL.
type Article struct {
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Outlet      string    `json:"outlet"`
	Category    string    `json:"category"`
	CollectedAt time.Time `json:"collected_at"`
	Excluded    bool      `json:"excluded,omitempty"`
}

// Subscriber is a digest recipient with three preferred topics.
type Subscriber struct {
	Email     string    `json:"email"`
	Topics    [3]string `json:"topics"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery is one ledger entry: this subscriber was sent this article.
type Delivery struct {
	Email       string    `json:"email"`
	Fingerprint string    `json:"fingerprint"`
	CampaignID  string    `json:"campaign_id"`
	SentAt      time.Time `json:"sent_at"`
}

// Campaign is a recorded campaign run.
type Campaign struct {
	ID                   string     `json:"id"`
	Trigger              string     `json:"trigger"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	SubscribersProcessed int        `json:"subscribers_processed"`
	EmailsGenerated      int        `json:"emails_generated"`
	Failures             int        `json:"failures"`
}

// CollectStats summarizes a collection pass.
type CollectStats struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DigestResult is the per-subscriber outcome of a campaign.
type DigestResult struct {
	Email        string `json:"email"`
	Rendered     bool   `json:"rendered"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CampaignReport summarizes a campaign run.
type CampaignReport struct {
	CampaignID           string         `json:"campaign_id"`
	Trigger              string         `json:"trigger"`
	StartedAt            time.Time      `json:"started_at"`
	FinishedAt           time.Time      `json:"finished_at"`
	SubscribersProcessed int            `json:"subscribers_processed"`
	EmailsGenerated      int            `json:"emails_generated"`
	Failures             int            `json:"failures"`
	Results              []DigestResult `json:"results"`
}

// CleanupResult reports how many articles a retention pass removed.
type CleanupResult struct {
	ArticlesPurged int `json:"articles_purged"`
}

// Topics returns the canonical category list, in fallback rotation order.
func Topics() []string {
	return storage.Topics()
}

func fromStorageArticle(a storage.Article) Article {
	return Article{
		Fingerprint: a.Fingerprint,
		Title:       a.Title,
		URL:         a.URL,
		Outlet:      a.Outlet,
		Category:    a.Category,
		CollectedAt: a.CollectedAt,
		Excluded:    a.Excluded,
	}
}

func fromStorageSubscriber(s storage.Subscriber) Subscriber {
	return Subscriber{
		Email:     s.Email,
		Topics:    s.Topics,
		Active:    s.Active,
		CreatedAt: s.CreatedAt,
	}
}

func fromStorageCampaign(c storage.Campaign) Campaign {
	return Campaign{
		ID:                   c.ID,
		Trigger:              c.Trigger,
		StartedAt:            c.StartedAt,
		FinishedAt:           c.FinishedAt,
		SubscribersProcessed: c.SubscribersProcessed,
		EmailsGenerated:      c.EmailsGenerated,
		Failures:             c.Failures,
	}
}
