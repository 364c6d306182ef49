package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/scraper"
)

// ─── ingest ───────────────────────────────────────────────────────────────────

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one batch ingest and print its stats as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		terms, _ := cmd.Flags().GetStringSlice("terms")
		location, _ := cmd.Flags().GetString("location")
		perTerm, _ := cmd.Flags().GetInt("per-term")
		return runIngest(cmd.Context(), cmd.OutOrStdout(), terms, location, perTerm)
	},
}

// ─── sweep ────────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete unbookmarked jobs older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return runSweep(cmd.Context(), cmd.OutOrStdout(), days)
	},
}

// ─── reembed ──────────────────────────────────────────────────────────────────

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Regenerate vectors produced by a model other than the configured one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		batch, _ := cmd.Flags().GetInt("batch-size")
		return runReembed(cmd.Context(), cmd.OutOrStdout(), batch)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd, sweepCmd, reembedCmd)

	ingestCmd.Flags().StringSlice("terms", nil, "search terms (default: derived from completed profiles)")
	ingestCmd.Flags().String("location", "", "search location (default: SCRAPE_LOCATION)")
	ingestCmd.Flags().Int("per-term", 0, "postings fetched per term (default: SCRAPE_PER_TERM)")

	sweepCmd.Flags().Int("days", 0, "maximum posting age in days (default: RETENTION_DAYS)")

	reembedCmd.Flags().Int("batch-size", 0, "records per page (default: EMBEDDING_BATCH_SIZE)")
}

func runIngest(ctx context.Context, out io.Writer, terms []string, location string, perTerm int) error {
	svc, err := connect(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(terms) == 0 {
		profiles, err := svc.store.CompletedProfiles(ctx)
		if err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		terms = scraper.SearchTerms(profiles, cfg.Scrape.MaxTerms)
	}
	location = orDefault(location, cfg.Scrape.Location)
	if perTerm <= 0 {
		perTerm = cfg.Scrape.PerTerm
	}

	zlog.Info("ingest started", zap.Int("terms", len(terms)), zap.String("location", location))
	stats, err := svc.scheduler(cfg, zlog).IngestAll(ctx, terms, location, perTerm)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func runSweep(ctx context.Context, out io.Writer, days int) error {
	if days <= 0 {
		days = cfg.Retention.Days
	}
	svc, err := connect(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer svc.Close()

	deleted, err := svc.sweeper.Sweep(ctx, days)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return printJSON(out, map[string]any{"deleted": deleted, "max_age_days": days})
}

func runReembed(ctx context.Context, out io.Writer, batch int) error {
	if batch <= 0 {
		batch = cfg.Embedding.BatchSize
	}
	svc, err := connect(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, err := svc.profiles.ReembedStale(ctx, batch)
	if err != nil {
		return fmt.Errorf("reembed: %w", err)
	}
	return printJSON(out, map[string]any{
		"model":    svc.enc.ModelName(),
		"jobs":     stats.Jobs,
		"students": stats.Students,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
