package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/storytracker/storytracker/internal/campaign"
	"github.com/storytracker/storytracker/internal/output"
	"github.com/storytracker/storytracker/internal/scrape"
	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

var (
	configPath   string
	outputFormat string
	cfg          *storage.Config
)

func loadConfig() error {
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = storage.DefaultConfig()
		return nil
	}

	loaded, err := storage.LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// openStore opens the database and overlays persisted admin settings.
func openStore() (*storage.Store, error) {
	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := cfg.ApplySettings(store); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func collectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect [category]",
		Short: "Collect articles from configured sources, all categories or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			scraper, err := scrape.NewScraper(store, cfg)
			if err != nil {
				return err
			}

			var stats scrape.CollectStats
			if len(args) == 1 {
				stats, err = scraper.Collect(ctx, args[0])
			} else {
				stats, err = scraper.CollectAll(ctx)
			}
			if err != nil {
				formatter.Warning("collection finished with errors: %v", err)
			}
			return formatter.OutputCollectStats(stats)
		},
	}
}

func campaignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "campaign",
		Short: "Run a digest campaign over all active subscribers now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			orchestrator := campaign.NewOrchestrator(
				store,
				selection.NewSelector(store, cfg.Selection.FallbackEnabled),
				campaign.NewFileRenderer(cfg.Output.Dir),
				cfg.Output.Dir,
			)

			report, err := orchestrator.Run(ctx, "manual")
			if err != nil {
				formatter.Warning("campaign finished with errors: %v", err)
			}
			if report == nil {
				return err
			}
			return formatter.OutputCampaignReport(report)
		},
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <email>",
		Short: "Show the digest a subscriber would receive, without sending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			orchestrator := campaign.NewOrchestrator(
				store,
				selection.NewSelector(store, cfg.Selection.FallbackEnabled),
				campaign.NewFileRenderer(cfg.Output.Dir),
				cfg.Output.Dir,
			)

			body, err := orchestrator.Preview(args[0])
			if err != nil {
				return err
			}
			return formatter.OutputDigestPreview(args[0], body)
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge old articles outside the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			purged, err := runCleanup(store, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d articles\n", purged)
			return nil
		},
	}
}

func subscriberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriber",
		Short: "Manage digest subscribers",
	}

	var topics []string
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a subscriber, or update an existing one's topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(topics) != 3 {
				return fmt.Errorf("exactly 3 topics required, got %d", len(topics))
			}
			var picked [3]string
			seen := make(map[string]bool, len(topics))
			for i, topic := range topics {
				if !storage.ValidTopic(topic) {
					return fmt.Errorf("unknown topic %q (see 'storytracker topics')", topic)
				}
				if seen[topic] {
					return fmt.Errorf("duplicate topic %q, three distinct topics required", topic)
				}
				seen[topic] = true
				picked[i] = topic
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.UpsertSubscriber(args[0], picked); err != nil {
				return err
			}
			fmt.Printf("Subscribed %s to %s\n", storage.NormalizeEmail(args[0]), strings.Join(topics, ", "))
			return nil
		},
	}
	add.Flags().StringSliceVarP(&topics, "topics", "t", nil, "three preferred topics (comma separated)")

	remove := &cobra.Command{
		Use:   "remove <email>",
		Short: "Unsubscribe an address, keeping its delivery history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeactivateSubscriber(args[0]); err != nil {
				return err
			}
			fmt.Printf("Unsubscribed %s\n", storage.NormalizeEmail(args[0]))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			subs, err := store.ActiveSubscribers()
			if err != nil {
				return err
			}
			return formatter.OutputSubscriberList(subs)
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func articlesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Inspect and curate the article pool",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently collected articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			articles, err := store.ListRecentArticles(limit)
			if err != nil {
				return err
			}
			return formatter.OutputArticleList(articles)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum articles to show")

	exclude := &cobra.Command{
		Use:   "exclude <fingerprint>",
		Short: "Pull an article from future digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.SetExcluded(args[0], true)
		},
	}

	include := &cobra.Command{
		Use:   "include <fingerprint>",
		Short: "Return a previously excluded article to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.SetExcluded(args[0], false)
		},
	}

	cmd.AddCommand(list, exclude, include)
	return cmd
}

func campaignsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Show campaign history",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(output.Format(outputFormat))

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			campaigns, err := store.RecentCampaigns(limit)
			if err != nil {
				return err
			}
			return formatter.OutputCampaignList(campaigns)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum campaigns to show")
	return cmd
}

func topicsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List the canonical topic categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, topic := range storage.Topics() {
				fmt.Println(topic)
			}
			return nil
		},
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Persisted overrides for schedule and selection behavior",
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a setting that overrides the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetSetting(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a default config file to the given path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(storage.DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote default config to %s\n", args[0])
			return nil
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "storytracker",
		Short: "Topic-based newsletter digests from scraped local news",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "human", "output format: json, text, human")

	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(subscriberCmd())
	rootCmd.AddCommand(articlesCmd())
	rootCmd.AddCommand(campaignsCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
