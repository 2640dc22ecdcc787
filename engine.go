// Package storytracker assembles the digest pipeline behind a single Engine:
// collect articles from configured sources, select three per subscriber,
// render and ledger digest campaigns, and keep the article table pruned.
package storytracker

import (
	"context"
	"fmt"
	"time"

	"github.com/storytracker/storytracker/internal/campaign"
	"github.com/storytracker/storytracker/internal/schedule"
	"github.com/storytracker/storytracker/internal/scrape"
	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

// Job names accepted by TriggerJob.
const (
	JobCollect  = "collect"
	JobCampaign = "campaign"
	JobCleanup  = "cleanup"
)

// Engine is the public API for the StoryTracker digest pipeline.
type Engine struct {
	store        *storage.Store
	scraper      *scrape.Scraper
	selector     *selection.Selector
	orchestrator *campaign.Orchestrator
	scheduler    *schedule.Scheduler
	config       *storage.Config
}

// NewEngine opens the database, loads configuration, and wires the pipeline.
// Persisted admin settings override the config file.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	appCfg := storage.DefaultConfig()
	if cfg.ConfigPath != "" {
		loaded, err := storage.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		appCfg = loaded
	}
	if cfg.DBPath != "" {
		appCfg.Database.Path = cfg.DBPath
	}
	if cfg.OutputDir != "" {
		appCfg.Output.Dir = cfg.OutputDir
	}

	store, err := storage.NewStore(appCfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := appCfg.ApplySettings(store); err != nil {
		store.Close()
		return nil, err
	}

	scraper, err := scrape.NewScraper(store, appCfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	selector := selection.NewSelector(store, appCfg.Selection.FallbackEnabled)
	orchestrator := campaign.NewOrchestrator(
		store, selector, campaign.NewFileRenderer(appCfg.Output.Dir), appCfg.Output.Dir)

	e := &Engine{
		store:        store,
		scraper:      scraper,
		selector:     selector,
		orchestrator: orchestrator,
		config:       appCfg,
	}
	if err := e.buildScheduler(); err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) buildScheduler() error {
	s := schedule.NewScheduler(schedule.SystemClock, e.config.Location())

	collectSpec, err := schedule.DailySpec(e.config.Schedule.ScrapeTime)
	if err != nil {
		return err
	}
	if err := s.Add(JobCollect, collectSpec, func(ctx context.Context, trigger string) error {
		_, err := e.scraper.CollectAll(ctx)
		return err
	}); err != nil {
		return err
	}

	campaignSpec, err := schedule.WeeklySpec(e.config.Schedule.CampaignDow, e.config.Schedule.CampaignTime)
	if err != nil {
		return err
	}
	if err := s.Add(JobCampaign, campaignSpec, func(ctx context.Context, trigger string) error {
		_, err := e.orchestrator.Run(ctx, trigger)
		return err
	}); err != nil {
		return err
	}

	cleanupSpec, err := schedule.WeeklySpec(e.config.Schedule.CleanupDow, e.config.Schedule.CleanupTime)
	if err != nil {
		return err
	}
	if err := s.Add(JobCleanup, cleanupSpec, func(ctx context.Context, trigger string) error {
		_, err := e.Cleanup()
		return err
	}); err != nil {
		return err
	}

	e.scheduler = s
	return nil
}

// Collect runs a collection pass for one category.
func (e *Engine) Collect(ctx context.Context, category string) (CollectStats, error) {
	stats, err := e.scraper.Collect(ctx, category)
	return CollectStats(stats), err
}

// CollectAll runs a collection pass for every configured category.
func (e *Engine) CollectAll(ctx context.Context) (CollectStats, error) {
	stats, err := e.scraper.CollectAll(ctx)
	return CollectStats(stats), err
}

// RunCampaign executes a digest campaign over all active subscribers.
func (e *Engine) RunCampaign(ctx context.Context, trigger string) (*CampaignReport, error) {
	report, err := e.orchestrator.Run(ctx, trigger)
	if report == nil {
		return nil, err
	}

	out := &CampaignReport{
		CampaignID:           report.CampaignID,
		Trigger:              report.Trigger,
		StartedAt:            report.StartedAt,
		FinishedAt:           report.FinishedAt,
		SubscribersProcessed: report.SubscribersProcessed,
		EmailsGenerated:      report.EmailsGenerated,
		Failures:             report.Failures,
	}
	for _, r := range report.Results {
		out.Results = append(out.Results, DigestResult{
			Email:        r.Email,
			Rendered:     r.Rendered,
			ArtifactPath: r.ArtifactPath,
			Error:        r.Error,
		})
	}
	return out, err
}

// PreviewDigest renders the digest a subscriber would receive now, without
// recording anything.
func (e *Engine) PreviewDigest(email string) (string, error) {
	return e.orchestrator.Preview(email)
}

// Cleanup purges articles older than the retention window, keeping any
// article still referenced by a recent ledger entry.
func (e *Engine) Cleanup() (*CleanupResult, error) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -e.config.Retention.RetentionDays)
	ledgerCutoff := now.AddDate(0, 0, -e.config.Retention.LedgerWindowDays)

	purged, err := e.store.PurgeOlderThan(cutoff, ledgerCutoff)
	if err != nil {
		return nil, err
	}
	return &CleanupResult{ArticlesPurged: purged}, nil
}

// Subscribe registers or updates a subscriber with exactly three distinct
// topics. Resubscribing a deactivated address reactivates it; the delivery
// ledger is kept, so they never see a repeat.
func (e *Engine) Subscribe(email string, topics [3]string) error {
	if storage.NormalizeEmail(email) == "" {
		return fmt.Errorf("empty subscriber email")
	}
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if !storage.ValidTopic(topic) {
			return fmt.Errorf("unknown topic %q", topic)
		}
		if seen[topic] {
			return fmt.Errorf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
	return e.store.UpsertSubscriber(email, topics)
}

// UpdatePreferences replaces an active subscriber's topic choices. The
// delivery ledger is untouched, so nothing already sent becomes eligible
// again. Unsubscribed addresses are rejected; Subscribe is the reactivation
// path.
func (e *Engine) UpdatePreferences(email string, topics [3]string) error {
	sub, err := e.store.GetSubscriber(email)
	if err != nil {
		return err
	}
	if !sub.Active {
		return fmt.Errorf("subscriber %s is unsubscribed, resubscribe to change topics", sub.Email)
	}
	return e.Subscribe(email, topics)
}

// Unsubscribe deactivates a subscriber, keeping their delivery history.
func (e *Engine) Unsubscribe(email string) error {
	return e.store.DeactivateSubscriber(email)
}

// GetSubscriber returns one subscriber by email.
func (e *Engine) GetSubscriber(email string) (*Subscriber, error) {
	sub, err := e.store.GetSubscriber(email)
	if err != nil {
		return nil, err
	}
	out := fromStorageSubscriber(*sub)
	return &out, nil
}

// ListSubscribers returns all active subscribers in email order.
func (e *Engine) ListSubscribers() ([]Subscriber, error) {
	subs, err := e.store.ActiveSubscribers()
	if err != nil {
		return nil, err
	}
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, fromStorageSubscriber(s))
	}
	return out, nil
}

// DeliveryHistory returns a subscriber's ledger entries, newest first.
func (e *Engine) DeliveryHistory(email string) ([]Delivery, error) {
	entries, err := e.store.DeliveriesFor(email)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(entries))
	for _, d := range entries {
		out = append(out, Delivery{
			Email:       d.SubscriberEmail,
			Fingerprint: d.Fingerprint,
			CampaignID:  d.CampaignID,
			SentAt:      d.SentAt,
		})
	}
	return out, nil
}

// ListArticles returns the most recently collected articles.
func (e *Engine) ListArticles(limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	articles, err := e.store.ListRecentArticles(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		out = append(out, fromStorageArticle(a))
	}
	return out, nil
}

// ListEligible returns the articles currently eligible for selection in one
// category, newest first.
func (e *Engine) ListEligible(category string, limit int) ([]Article, error) {
	if !storage.ValidTopic(category) {
		return nil, fmt.Errorf("unknown topic %q", category)
	}
	if limit <= 0 {
		limit = -1
	}
	articles, err := e.store.ListEligible(category, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		out = append(out, fromStorageArticle(a))
	}
	return out, nil
}

// ExcludeArticle pulls an article from future selection without deleting it.
func (e *Engine) ExcludeArticle(fingerprint string) error {
	return e.store.SetExcluded(fingerprint, true)
}

// IncludeArticle returns a previously excluded article to selection.
func (e *Engine) IncludeArticle(fingerprint string) error {
	return e.store.SetExcluded(fingerprint, false)
}

// RecentCampaigns returns campaign history, newest first.
func (e *Engine) RecentCampaigns(limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 20
	}
	campaigns, err := e.store.RecentCampaigns(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, fromStorageCampaign(c))
	}
	return out, nil
}

// SetSetting persists an admin override that takes effect on the next start.
func (e *Engine) SetSetting(key, value string) error {
	return e.store.SetSetting(key, value)
}

// StartScheduler runs the recurring jobs until the context is cancelled.
func (e *Engine) StartScheduler(ctx context.Context) error {
	return e.scheduler.Run(ctx)
}

// TriggerJob runs one job immediately. It fails with ErrJobBusy when the job
// is already running and does not disturb the regular schedule.
func (e *Engine) TriggerJob(ctx context.Context, name string) error {
	return e.scheduler.TriggerNow(ctx, name)
}

// TriggerScrapeNow runs the collection job immediately.
func (e *Engine) TriggerScrapeNow(ctx context.Context) error {
	return e.TriggerJob(ctx, JobCollect)
}

// TriggerCampaignNow runs the campaign job immediately.
func (e *Engine) TriggerCampaignNow(ctx context.Context) error {
	return e.TriggerJob(ctx, JobCampaign)
}

// TriggerCleanupNow runs the cleanup job immediately.
func (e *Engine) TriggerCleanupNow(ctx context.Context) error {
	return e.TriggerJob(ctx, JobCleanup)
}

// Jobs reports the scheduler's job table.
func (e *Engine) Jobs() []schedule.JobStatus {
	return e.scheduler.Status()
}

// Close releases the underlying database.
func (e *Engine) Close() error {
	return e.store.Close()
}
