package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the digest service. Values in the settings
// table override the file where noted, so the admin surface can adjust
// schedules without a restart losing them.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Scraper struct {
		MaxPerCategory int    `yaml:"maxPerCategory"`
		DelayMs        int    `yaml:"delayMs"`
		TimeoutSec     int    `yaml:"timeoutSec"`
		MaxRetries     int    `yaml:"maxRetries"`
		UserAgent      string `yaml:"userAgent"`
	} `yaml:"scraper"`

	Retention struct {
		RetentionDays    int `yaml:"retentionDays"`
		LedgerWindowDays int `yaml:"ledgerWindowDays"`
	} `yaml:"retention"`

	Selection struct {
		FallbackEnabled bool `yaml:"fallbackEnabled"`
	} `yaml:"selection"`

	Schedule struct {
		ScrapeTime   string `yaml:"scrapeTime"`   // "HH:MM", daily
		CampaignDow  int    `yaml:"campaignDow"`  // 0=Sunday .. 6=Saturday
		CampaignTime string `yaml:"campaignTime"` // "HH:MM"
		CleanupDow   int    `yaml:"cleanupDow"`
		CleanupTime  string `yaml:"cleanupTime"`
		Timezone     string `yaml:"timezone"`
	} `yaml:"schedule"`

	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`

	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one per-category scrape source. Kind "html" walks a
// listing page with CSS selectors; kind "rss" parses a feed.
type SourceConfig struct {
	Category string `yaml:"category"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`

	// html sources only
	ItemSelector  string `yaml:"itemSelector"`
	TitleSelector string `yaml:"titleSelector"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./storytracker.db"
	cfg.Scraper.MaxPerCategory = 5
	cfg.Scraper.DelayMs = 500
	cfg.Scraper.TimeoutSec = 15
	cfg.Scraper.MaxRetries = 2
	cfg.Scraper.UserAgent = "StoryTracker/1.0"
	cfg.Retention.RetentionDays = 90
	cfg.Retention.LedgerWindowDays = 180
	cfg.Selection.FallbackEnabled = true
	cfg.Schedule.ScrapeTime = "06:00"
	cfg.Schedule.CampaignDow = 2
	cfg.Schedule.CampaignTime = "09:00"
	cfg.Schedule.CleanupDow = 0
	cfg.Schedule.CleanupTime = "02:00"
	cfg.Schedule.Timezone = "UTC"
	cfg.Output.Dir = "./digests"
	return cfg
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Settings keys recognized by ApplySettings. The admin surface writes these
// through Store.SetSetting; they take precedence over the config file.
const (
	SettingFallbackEnabled = "fallback_enabled"
	SettingScrapeTime      = "scrape_time"
	SettingCampaignDow     = "campaign_dow"
	SettingCampaignTime    = "campaign_time"
	SettingCleanupDow      = "cleanup_dow"
	SettingCleanupTime     = "cleanup_time"
	SettingRetentionDays   = "retention_days"
)

// ApplySettings overlays persisted admin settings onto the config.
func (c *Config) ApplySettings(store *Store) error {
	if v, err := store.GetSetting(SettingFallbackEnabled); err != nil {
		return err
	} else if v != "" {
		c.Selection.FallbackEnabled = v == "1" || v == "true"
	}

	overlays := []struct {
		key string
		dst *string
	}{
		{SettingScrapeTime, &c.Schedule.ScrapeTime},
		{SettingCampaignTime, &c.Schedule.CampaignTime},
		{SettingCleanupTime, &c.Schedule.CleanupTime},
	}
	for _, o := range overlays {
		v, err := store.GetSetting(o.key)
		if err != nil {
			return err
		}
		if v != "" {
			*o.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{SettingCampaignDow, &c.Schedule.CampaignDow},
		{SettingCleanupDow, &c.Schedule.CleanupDow},
		{SettingRetentionDays, &c.Retention.RetentionDays},
	}
	for _, o := range ints {
		v, err := store.GetSetting(o.key)
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return fmt.Errorf("setting %s: invalid value %q", o.key, v)
		}
		*o.dst = n
	}

	return nil
}
