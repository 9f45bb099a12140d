package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skridlevsky/contrib-census/internal/census"
	"github.com/skridlevsky/contrib-census/internal/config"
	"github.com/skridlevsky/contrib-census/internal/db"
	"github.com/skridlevsky/contrib-census/internal/github"
	"github.com/skridlevsky/contrib-census/internal/report"
)

var (
	flagOwner    string
	flagRepo     string
	flagSince    string
	flagUntil    string
	flagFiveTier bool
	flagOut      string
)

var rootCmd = &cobra.Command{
	Use:   "census",
	Short: "Classify a repository's contributors over a time window",
	Long: `census fetches a repository's contribution history, classifies every
contributor into an activity tier, flags automation accounts and resolves
duplicate identities. Results are persisted and optionally exported as CSV.

Interrupted runs resume from their last completed slice.`,
	RunE:          runCensus,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&flagOwner, "owner", "", "repository owner (overrides config)")
	rootCmd.Flags().StringVar(&flagRepo, "repo", "", "repository name (overrides config)")
	rootCmd.Flags().StringVar(&flagSince, "since", "", "window start, YYYY-MM-DD (overrides config)")
	rootCmd.Flags().StringVar(&flagUntil, "until", "", "window end, YYYY-MM-DD (overrides config)")
	rootCmd.Flags().BoolVar(&flagFiveTier, "five-tier", false, "use the five-tier scheme with a historical lookback")
	rootCmd.Flags().StringVar(&flagOut, "out", "", "directory for CSV exports (skipped when empty)")
}

func runCensus(cmd *cobra.Command, args []string) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	applyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx := cmd.Context()

	log.Println("Connecting to database...")
	database, err := db.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Println("Running migrations...")
	if err := db.RunMigrations(ctx, database.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	store := census.NewStore(database.Pool())
	client := github.NewClient(cfg.GitHubToken, github.NewProfileCache(30*time.Minute))

	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return err
	}

	pipeline := census.NewPipeline(client, store, pcfg)

	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("census failed: %w", err)
	}

	log.Printf("Run %s finished: %d contributors, %d email clusters, %d profile clusters",
		result.Run.ID, len(result.Buckets),
		len(result.EmailClusters), len(result.ProfileClusters))

	if flagOut != "" {
		if err := export(ctx, store, result, flagOut); err != nil {
			return err
		}
	}
	return nil
}

func applyFlags(cfg *config.Config, cmd *cobra.Command) {
	if flagOwner != "" {
		cfg.Owner = flagOwner
	}
	if flagRepo != "" {
		cfg.Repo = flagRepo
	}
	if flagSince != "" {
		cfg.Since = flagSince
	}
	if flagUntil != "" {
		cfg.Until = flagUntil
	}
	if cmd.Flags().Changed("five-tier") {
		cfg.FiveTier = flagFiveTier
	}
}

func pipelineConfig(cfg *config.Config) (census.PipelineConfig, error) {
	since, until, err := cfg.Window()
	if err != nil {
		return census.PipelineConfig{}, err
	}

	pcfg := census.PipelineConfig{
		Owner:                 cfg.Owner,
		Repo:                  cfg.Repo,
		Since:                 since,
		Until:                 until,
		SliceMonths:           cfg.SliceMonths,
		HistoricalSliceMonths: cfg.HistoricalSliceMonths,
		IncludeIssueComments:  cfg.IncludeIssueComments,
		IncludeReviewComments: cfg.IncludeReviewComments,
		IncludeReviews:        cfg.IncludeReviews,
		Scheme:                census.FourTier,
		Tiers:                 cfg.Tiers,
		Bot:                   cfg.Bot,
		Similarity:            cfg.Similarity,
	}
	if cfg.FiveTier {
		start, _, err := cfg.HistoricalWindow()
		if err != nil {
			return census.PipelineConfig{}, err
		}
		pcfg.Scheme = census.FiveTier
		pcfg.HistoricalStart = start
	}
	return pcfg, nil
}

// export writes the audit CSVs for a finished run.
func export(ctx context.Context, store *census.Store, result *census.Report, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	rows, err := store.ListBuckets(ctx, result.Run.ID)
	if err != nil {
		return err
	}

	if err := writeFile(filepath.Join(dir, "buckets.csv"), func(f *os.File) error {
		return report.WriteBuckets(f, rows)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "tier_summary.csv"), func(f *os.File) error {
		return report.WriteTierSummary(f, report.SummarizeTiers(rows))
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "username_bots.csv"), func(f *os.File) error {
		return report.WriteBots(f, flaggedOnly(result.UsernameBots))
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "behavioral_bots.csv"), func(f *os.File) error {
		return report.WriteBots(f, flaggedOnly(result.BehavioralBots))
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "email_clusters.csv"), func(f *os.File) error {
		return report.WriteClusters(f, result.EmailClusters)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, "profile_clusters.csv"), func(f *os.File) error {
		return report.WriteClusters(f, result.ProfileClusters)
	}); err != nil {
		return err
	}

	log.Printf("Exports written to %s", dir)
	return nil
}

func flaggedOnly(verdicts []census.BotVerdict) []census.BotVerdict {
	var out []census.BotVerdict
	for _, v := range verdicts {
		if v.IsBot {
			out = append(out, v)
		}
	}
	return out
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
