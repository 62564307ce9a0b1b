package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/kevinmichaelchen/trend-watch/internal/config"
	"github.com/kevinmichaelchen/trend-watch/internal/embedding"
	"github.com/kevinmichaelchen/trend-watch/internal/images"
	"github.com/kevinmichaelchen/trend-watch/internal/pipeline"
	"github.com/kevinmichaelchen/trend-watch/internal/store"
	"github.com/kevinmichaelchen/trend-watch/internal/surrealdb"
	"github.com/kevinmichaelchen/trend-watch/internal/week"
	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:          "trend-watch",
		Short:        "Weekly GitHub trending → local archive with AI summaries",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(runCmd(), windowCmd(), statsCmd(), cleanImagesCmd(), schemaCmd(), searchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCmd() *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the current week: discover, fetch, localize images, summarize",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			rep, err := pipeline.Run(ctx, cfg, opts, logger)
			if rep != nil {
				if werr := writeReport(os.Stdout, rep); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&opts.SkipImages, "skip-images", false, "Do not download README images")
	cmd.Flags().BoolVar(&opts.SkipSummary, "skip-summary", false, "Do not call the LLM")
	cmd.Flags().BoolVar(&opts.SkipIndex, "skip-index", false, "Do not mirror records into SurrealDB")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-discover even if the week is already materialized")
	return cmd
}

// parseWindow returns the window containing date (YYYY-MM-DD), or the
// current window when date is empty.
func parseWindow(date string) (week.Window, error) {
	if date == "" {
		return week.Current(), nil
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return week.Window{}, fmt.Errorf("invalid --date %q: %w", date, err)
	}
	return week.At(t), nil
}

func windowCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show the ISO week a run would ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(date)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return writeWindow(os.Stdout, w, store.New(cfg.DataDir))
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Any day inside the week (YYYY-MM-DD)")
	return cmd
}

func statsCmd() *cobra.Command {
	var date string
	var index bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record, summary and image counts for a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWindow(date)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			st := store.New(cfg.DataDir)
			stats, err := st.Stats(w)
			if err != nil {
				return err
			}
			if err := writeStats(os.Stdout, w, stats); err != nil {
				return err
			}

			if !index {
				return nil
			}
			if !cfg.MirrorEnabled() {
				return fmt.Errorf("--index requires SURREAL_URL")
			}
			ctx := context.Background()
			db, err := surrealdb.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(ctx) }()

			totals, err := db.GetStats(ctx)
			if err != nil {
				return err
			}
			windows, err := db.GetWindowBreakdown(ctx)
			if err != nil {
				return err
			}
			return writeIndexStats(os.Stdout, totals, windows)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Any day inside the week (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&index, "index", false, "Also show SurrealDB mirror counts")
	return cmd
}

func cleanImagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean-images",
		Short: "Delete SVG files from every images directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			n, err := images.CleanupVectorImages(cfg.DataDir)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d SVG files under %s\n", n, cfg.DataDir)
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Initialize/update the SurrealDB schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := surrealdb.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(ctx) }()

			if err := db.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Println("Schema initialized")
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Semantic similarity search across indexed summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.MirrorEnabled() || !cfg.EmbeddingEnabled() {
				return fmt.Errorf("search requires SURREAL_URL and EMBEDDING_API_KEY")
			}
			query := args[0]

			emb := embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
			vec, err := emb.EmbedQuery(ctx, query)
			if err != nil {
				return fmt.Errorf("embedding query: %w", err)
			}

			db, err := surrealdb.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(ctx) }()

			results, err := db.VectorSearch(ctx, vec, k)
			if err != nil {
				return err
			}
			return writeSearch(os.Stdout, query, results)
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of results")
	return cmd
}
