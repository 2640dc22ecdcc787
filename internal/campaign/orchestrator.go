// Package campaign runs digest campaigns: it walks the active subscribers,
// selects and renders a digest for each, and records every delivered article
// in the ledger so no subscriber ever sees the same story twice.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

// SubscriberResult is the per-subscriber line in a campaign report.
type SubscriberResult struct {
	Email        string `json:"email"`
	Rendered     bool   `json:"rendered"`
	ArtifactID   string `json:"artifact_id,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Report summarizes one campaign run.
type Report struct {
	CampaignID           string             `json:"campaign_id"`
	Trigger              string             `json:"trigger"`
	StartedAt            time.Time          `json:"started_at"`
	FinishedAt           time.Time          `json:"finished_at"`
	SubscribersProcessed int                `json:"subscribers_processed"`
	EmailsGenerated      int                `json:"emails_generated"`
	Failures             int                `json:"failures"`
	Results              []SubscriberResult `json:"results"`
}

// Orchestrator drives campaign runs.
type Orchestrator struct {
	store    *storage.Store
	selector *selection.Selector
	renderer Renderer
	dir      string
	now      func() time.Time
}

func NewOrchestrator(store *storage.Store, selector *selection.Selector, renderer Renderer, dir string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		selector: selector,
		renderer: renderer,
		dir:      dir,
		now:      time.Now,
	}
}

// CampaignID derives the campaign identifier from its start time. A run that
// crashed before finalize can be re-invoked under the same identifier and
// converges on the same campaign record and ledger rows.
func CampaignID(at time.Time) string {
	return "campaign-" + at.UTC().Format("20060102-150405")
}

// Run executes one campaign. Subscribers are processed in email order;
// selection and render failures are recorded per subscriber and do not stop
// the run. A storage failure aborts it, after finalizing the partial counts.
func (o *Orchestrator) Run(ctx context.Context, trigger string) (*Report, error) {
	started := o.now().UTC()
	report := &Report{
		CampaignID: CampaignID(started),
		Trigger:    trigger,
		StartedAt:  started,
	}

	if err := o.store.CreateCampaign(&storage.Campaign{
		ID:        report.CampaignID,
		Trigger:   trigger,
		StartedAt: started,
	}); err != nil {
		return nil, err
	}

	subs, err := o.store.ActiveSubscribers()
	if err != nil {
		return report, o.finish(report, err)
	}

	for i := range subs {
		if err := ctx.Err(); err != nil {
			return report, o.finish(report, err)
		}

		sub := &subs[i]
		report.SubscribersProcessed++
		result := SubscriberResult{Email: sub.Email}

		err := o.sendOne(sub, report.CampaignID, &result)
		if err != nil {
			var serr *storage.StoreError
			if errors.As(err, &serr) {
				result.Error = err.Error()
				report.Results = append(report.Results, result)
				report.Failures++
				return report, o.finish(report, err)
			}
			log.Printf("storytracker: campaign %s: skipping %s: %v", report.CampaignID, sub.Email, err)
			result.Error = err.Error()
			report.Failures++
		} else {
			result.Rendered = true
			report.EmailsGenerated++
		}
		report.Results = append(report.Results, result)
	}

	return report, o.finish(report, nil)
}

// sendOne selects, renders, and ledgers a single subscriber's digest. Ledger
// rows are written only after the artifact exists.
func (o *Orchestrator) sendOne(sub *storage.Subscriber, campaignID string, result *SubscriberResult) error {
	picks, err := o.selector.Select(sub)
	if err != nil {
		return err
	}

	artifact, err := o.renderer.Render(sub, picks, campaignID)
	if err != nil {
		return err
	}
	result.ArtifactID = artifact.ID
	result.ArtifactPath = artifact.Path

	sentAt := o.now().UTC()
	for _, a := range picks.Articles {
		if err := o.store.RecordDelivery(sub.Email, a.Fingerprint, campaignID, sentAt); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) finish(report *Report, runErr error) error {
	report.FinishedAt = o.now().UTC()

	if err := o.store.FinalizeCampaign(report.CampaignID, report.FinishedAt,
		report.SubscribersProcessed, report.EmailsGenerated, report.Failures); err != nil {
		log.Printf("storytracker: failed to finalize campaign %s: %v", report.CampaignID, err)
		if runErr == nil {
			runErr = err
		}
	}

	if err := o.writeSummary(report); err != nil {
		log.Printf("storytracker: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (o *Orchestrator) writeSummary(report *Report) error {
	dir := filepath.Join(o.dir, report.CampaignID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to write campaign summary: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode campaign summary: %w", err)
	}

	path := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write campaign summary: %w", err)
	}
	return nil
}

// Preview renders the digest a subscriber would receive right now, without
// touching the ledger or creating a campaign record.
func (o *Orchestrator) Preview(email string) (string, error) {
	sub, err := o.store.GetSubscriber(email)
	if err != nil {
		return "", err
	}
	if !sub.Active {
		return "", storage.ErrNotFound
	}

	picks, err := o.selector.Select(sub)
	if err != nil {
		return "", err
	}
	return RenderBody(sub, picks, o.now().UTC()), nil
}
