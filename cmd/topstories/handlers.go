package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/topstories/internal/config"
	"github.com/elonfeng/topstories/internal/ingest"
	"github.com/elonfeng/topstories/internal/logging"
	"github.com/elonfeng/topstories/internal/scheduler"
	"github.com/elonfeng/topstories/internal/store"
	"github.com/elonfeng/topstories/pkg/server"
	"github.com/elonfeng/topstories/pkg/topstories"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// setup loads config, builds the logger and opens the store. The returned
// store must be closed by the caller.
func setup(ctx context.Context, needAPIKey bool) (*config.Config, *slog.Logger, *store.SQLStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	validate := cfg.ValidateStorage
	if needAPIKey {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	loc, err := cfg.Ingest.Location()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := store.Open(ctx, cfg.Database, loc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, logger, db, nil
}

func buildPipeline(cfg *config.Config, db *store.SQLStore, logger *slog.Logger) *ingest.Pipeline {
	client := topstories.NewClient(cfg.API.BaseURL, cfg.API.Section, cfg.API.Key, cfg.API.ParseTimeout())
	return ingest.New(client, db, ingest.Options{
		Location:    db.Location(),
		SkipInvalid: cfg.Ingest.SkipInvalid,
		Logger:      logger,
	})
}

func runCollect(ctx context.Context, jsonOutput bool) error {
	cfg, logger, db, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := buildPipeline(cfg, db, logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(os.Stderr, "fetched %d stories: %d new articles, %d new status snapshots",
		res.Fetched, res.ArticlesInserted, res.StatusesInserted)
	if res.Skipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d skipped", res.Skipped)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func runInitSchema(ctx context.Context) error {
	cfg, logger, db, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("schema ready", "driver", cfg.Database.Driver, "database", cfg.Database.Name)
	return nil
}

func runArticles(ctx context.Context, section string, limit int, jsonOutput bool) error {
	_, _, db, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	articles, err := db.ListArticles(ctx, store.ListOpts{Section: section, Limit: limit})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(articles)
	}

	if len(articles) == 0 {
		fmt.Println("no articles stored (try: topstories collect)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tPUBLISHED\tSECTION\tAUTHOR\tTITLE")
	for _, a := range articles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.URLKey, a.PublishedDate.Format(time.RFC3339), a.Section, a.Author, a.Title)
	}
	return w.Flush()
}

func runHistory(ctx context.Context, key string, jsonOutput bool) error {
	_, _, db, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	a, err := db.GetArticle(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no article with key %s", key)
	}
	if err != nil {
		return err
	}
	statuses, err := db.ListStatuses(ctx, key)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"article": a, "history": statuses})
	}

	fmt.Printf("%s\n%s\n\n", a.Title, a.Link)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UPDATED\tTITLE")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\n", st.UpdatedDate.Format(time.RFC3339), st.Title)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, db, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}

	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	// On-demand collection needs the api key.
	var runner server.Runner
	if cfg.API.Key != "" {
		runner = buildPipeline(cfg, db, logger)
	}

	return server.New(db, runner, port, logger).ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, db, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer db.Close()

	if port == 0 {
		port = cfg.Server.Port
	}

	pipeline := buildPipeline(cfg, db, logger)
	sched := scheduler.New(pipeline, cfg.Schedule.ParseInterval(), logger)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	err = server.New(db, pipeline, port, logger).ListenAndServe(ctx)
	logger.Info("shutting down")
	return err
}
