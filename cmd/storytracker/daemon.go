package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/storytracker/storytracker/internal/campaign"
	"github.com/storytracker/storytracker/internal/schedule"
	"github.com/storytracker/storytracker/internal/scrape"
	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

func runCleanup(store *storage.Store, cfg *storage.Config) (int, error) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -cfg.Retention.RetentionDays)
	ledgerCutoff := now.AddDate(0, 0, -cfg.Retention.LedgerWindowDays)
	return store.PurgeOlderThan(cutoff, ledgerCutoff)
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler: daily collection, weekly campaign, weekly cleanup",
		Long: `Run the recurring jobs on their configured schedule until stopped.
Handles SIGINT/SIGTERM for graceful shutdown (running jobs observe the
cancellation and finish early).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			scraper, err := scrape.NewScraper(store, cfg)
			if err != nil {
				return err
			}
			orchestrator := campaign.NewOrchestrator(
				store,
				selection.NewSelector(store, cfg.Selection.FallbackEnabled),
				campaign.NewFileRenderer(cfg.Output.Dir),
				cfg.Output.Dir,
			)

			scheduler := schedule.NewScheduler(schedule.SystemClock, cfg.Location())

			collectSpec, err := schedule.DailySpec(cfg.Schedule.ScrapeTime)
			if err != nil {
				return err
			}
			if err := scheduler.Add("collect", collectSpec, func(ctx context.Context, trigger string) error {
				stats, err := scraper.CollectAll(ctx)
				log.Printf("storytracker daemon: collect done: added=%d skipped=%d failed=%d",
					stats.Added, stats.Skipped, stats.Failed)
				return err
			}); err != nil {
				return err
			}

			campaignSpec, err := schedule.WeeklySpec(cfg.Schedule.CampaignDow, cfg.Schedule.CampaignTime)
			if err != nil {
				return err
			}
			if err := scheduler.Add("campaign", campaignSpec, func(ctx context.Context, trigger string) error {
				report, err := orchestrator.Run(ctx, trigger)
				if report != nil {
					log.Printf("storytracker daemon: campaign %s: generated=%d failures=%d",
						report.CampaignID, report.EmailsGenerated, report.Failures)
				}
				return err
			}); err != nil {
				return err
			}

			cleanupSpec, err := schedule.WeeklySpec(cfg.Schedule.CleanupDow, cfg.Schedule.CleanupTime)
			if err != nil {
				return err
			}
			if err := scheduler.Add("cleanup", cleanupSpec, func(ctx context.Context, trigger string) error {
				purged, err := runCleanup(store, cfg)
				log.Printf("storytracker daemon: cleanup done: purged=%d", purged)
				return err
			}); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				log.Println("storytracker daemon: received shutdown signal, exiting")
				cancel()
			}()

			for _, status := range scheduler.Status() {
				log.Printf("storytracker daemon: %s next run %s", status.Name,
					status.NextRun.Format("Mon 2006-01-02 15:04 MST"))
			}

			err = scheduler.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}
