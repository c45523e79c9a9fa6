// Package ingest runs one fetch-then-store pass over the Top Stories API.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/topstories/internal/article"
	"github.com/elonfeng/topstories/internal/store"
	"github.com/elonfeng/topstories/pkg/topstories"
)

// Fetcher returns the current stories of one section.
type Fetcher interface {
	Fetch(ctx context.Context) ([]topstories.Story, error)
}

// Writer persists a converted batch.
type Writer interface {
	EnsureSchema(ctx context.Context) error
	WriteBatch(ctx context.Context, articles []article.Article, statuses []article.Status) (store.BatchResult, error)
}

// Options tune a Pipeline.
type Options struct {
	// Location timestamps are stored in; nil means article.EasternFixed.
	Location *time.Location
	// SkipInvalid drops records with data shape errors instead of failing.
	SkipInvalid bool
	Logger      *slog.Logger
}

// Result summarises one run.
type Result struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	Fetched          int       `json:"fetched"`
	ArticlesInserted int       `json:"articles_inserted"`
	StatusesInserted int       `json:"statuses_inserted"`
	Skipped          int       `json:"skipped"`
	Warnings         []string  `json:"warnings,omitempty"`
}

// Pipeline wires a fetcher to a store.
type Pipeline struct {
	fetcher Fetcher
	writer  Writer
	opts    Options
	log     *slog.Logger
}

// New creates a pipeline.
func New(f Fetcher, w Writer, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher: f,
		writer:  w,
		opts:    opts,
		log:     logger.With("component", "ingest"),
	}
}

// Run fetches the current stories, ensures the schema and stores both
// article and status rows in one transaction.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.log.With("run_id", res.RunID)

	stories, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.Fetched = len(stories)
	log.Debug("fetched stories", "count", len(stories))

	if err := p.writer.EnsureSchema(ctx); err != nil {
		return res, fmt.Errorf("ensure schema: %w", err)
	}

	articles, statuses, err := p.convert(log, stories, res)
	if err != nil {
		return res, err
	}

	written, err := p.writer.WriteBatch(ctx, articles, statuses)
	if err != nil {
		return res, fmt.Errorf("store: %w", err)
	}
	res.ArticlesInserted = written.Articles
	res.StatusesInserted = written.Statuses

	log.Info("run complete",
		"fetched", res.Fetched,
		"articles_inserted", res.ArticlesInserted,
		"statuses_inserted", res.StatusesInserted,
		"skipped", res.Skipped,
		"warnings", len(res.Warnings),
		"duration", time.Since(res.StartedAt).Round(time.Millisecond),
	)
	return res, nil
}

func (p *Pipeline) convert(log *slog.Logger, stories []topstories.Story, res *Result) ([]article.Article, []article.Status, error) {
	articles := make([]article.Article, 0, len(stories))
	statuses := make([]article.Status, 0, len(stories))

	for i, s := range stories {
		a, st, warnings, err := article.FromStory(s, p.opts.Location)
		if err != nil {
			if p.opts.SkipInvalid && errors.Is(err, article.ErrDataShape) {
				log.Warn("skipping story", "index", i, "url", s.URL, "error", err)
				res.Skipped++
				continue
			}
			return nil, nil, fmt.Errorf("story %d: %w", i, err)
		}
		for _, w := range warnings {
			log.Warn("data quality", "url_key", a.URLKey, "warning", w)
			res.Warnings = append(res.Warnings, a.URLKey+": "+w)
		}
		articles = append(articles, a)
		statuses = append(statuses, st)
	}
	return articles, statuses, nil
}
