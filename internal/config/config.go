// Package config defines run configuration and its layered loading.
//
// Precedence (low -> high): built-in defaults, optional YAML file named by
// CENSUS_CONFIG, then CENSUS_-prefixed environment variables. Callers load
// a .env file (godotenv) before Load so local secrets reach the env layer.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/skridlevsky/contrib-census/internal/census"
)

// Config holds everything a census run or the report server needs.
type Config struct {
	// Repository identity.
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`

	// Window bounds, YYYY-MM-DD; since inclusive, until exclusive.
	Since string `koanf:"since"`
	Until string `koanf:"until"`

	// SliceMonths is the partitioner granularity for the window scan.
	SliceMonths int `koanf:"slice_months"`

	// HistoricalStart bounds the lookback scan that feeds the Newcomer
	// and Dormant tiers. The lookback uses a coarser granularity.
	HistoricalStart       string `koanf:"historical_start"`
	HistoricalSliceMonths int    `koanf:"historical_slice_months"`

	// Optional event sources.
	IncludeIssueComments  bool `koanf:"include_issue_comments"`
	IncludeReviewComments bool `koanf:"include_review_comments"`
	IncludeReviews        bool `koanf:"include_reviews"`

	// FiveTier switches the bucket scheme from four tiers to five
	// (adds Dormant).
	FiveTier bool `koanf:"five_tier"`

	// Classification policy.
	Tiers      census.TierThresholds          `koanf:"tiers"`
	Bot        census.BehavioralConfig        `koanf:"bot"`
	Similarity census.ProfileSimilarityConfig `koanf:"similarity"`

	// Collaborators.
	GitHubToken string `koanf:"github_token"`
	DatabaseURL string `koanf:"database_url"`

	// Report server.
	Port string `koanf:"port"`
	Env  string `koanf:"env"`
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		SliceMonths:           1,
		HistoricalStart:       "2014-01-01",
		HistoricalSliceMonths: 6,
		Tiers:                 census.DefaultTierThresholds(),
		Bot:                   census.DefaultBehavioralConfig(),
		Similarity:            census.DefaultProfileSimilarityConfig(),
		Port:                  "8080",
		Env:                   "development",
	}
}

// Load builds a Config by layering defaults, the optional YAML file, and
// the environment. Callers validate once overrides are applied: the
// pipeline needs the full window, the report server only a database.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("CENSUS_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// CENSUS_DATABASE_URL -> database_url. Env keys are flat; nested
	// policy keys (tiers, weights) come from the file layer.
	envProvider := env.Provider("CENSUS_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "CENSUS_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := defaults()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Window parses the configured run window.
func (c *Config) Window() (since, until time.Time, err error) {
	since, err = parseDate(c.Since)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid since: %w", err)
	}
	until, err = parseDate(c.Until)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid until: %w", err)
	}
	return since, until, nil
}

// HistoricalWindow parses the lookback window, which ends where the run
// window begins.
func (c *Config) HistoricalWindow() (start, end time.Time, err error) {
	start, err = parseDate(c.HistoricalStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid historical_start: %w", err)
	}
	end, _, err = c.Window()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Validate rejects configurations the pipeline cannot run, before any
// fetch begins.
func (c *Config) Validate() error {
	if c.Owner == "" || c.Repo == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if c.GitHubToken == "" {
		return fmt.Errorf("github_token is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	since, until, err := c.Window()
	if err != nil {
		return err
	}
	if !since.Before(until) {
		return fmt.Errorf("until %s must be after since %s", c.Until, c.Since)
	}
	if c.SliceMonths <= 0 {
		return fmt.Errorf("slice_months must be positive, got %d", c.SliceMonths)
	}
	if c.HistoricalSliceMonths <= 0 {
		return fmt.Errorf("historical_slice_months must be positive, got %d", c.HistoricalSliceMonths)
	}
	if c.FiveTier {
		histStart, err := parseDate(c.HistoricalStart)
		if err != nil {
			return fmt.Errorf("invalid historical_start: %w", err)
		}
		if !histStart.Before(since) {
			return fmt.Errorf("historical_start %s must be before since %s", c.HistoricalStart, c.Since)
		}
	}
	if err := c.Tiers.Validate(); err != nil {
		return err
	}
	if err := c.Bot.Validate(); err != nil {
		return err
	}
	return c.Similarity.Validate()
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return t.UTC(), nil
}
