package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/topstories/internal/article"
	"github.com/elonfeng/topstories/internal/config"
)

// ErrDatabase marks connection, DDL and DML failures.
var ErrDatabase = errors.New("database error")

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

var (
	articleColumns = []string{"url", "link", "section", "subsection", "title", "author", "abstract", "published_date"}
	statusColumns  = []string{"url", "title", "updated_date"}
)

// ListOpts controls article listing.
type ListOpts struct {
	Section string
	Since   time.Time
	Limit   int
}

// BatchResult counts the rows a batch actually inserted.
type BatchResult struct {
	Articles int `json:"articles"`
	Statuses int `json:"statuses"`
}

// Counts is the total number of rows in each table.
type Counts struct {
	Articles int `json:"articles"`
	Statuses int `json:"statuses"`
}

// Store is the persistence interface.
type Store interface {
	EnsureSchema(ctx context.Context) error

	WriteArticles(ctx context.Context, articles []article.Article) (int, error)
	WriteStatuses(ctx context.Context, statuses []article.Status) (int, error)
	WriteBatch(ctx context.Context, articles []article.Article, statuses []article.Status) (BatchResult, error)

	GetArticle(ctx context.Context, urlKey string) (*article.Article, error)
	ListArticles(ctx context.Context, opts ListOpts) ([]article.Article, error)
	ListStatuses(ctx context.Context, urlKey string) ([]article.Status, error)
	Count(ctx context.Context) (Counts, error)

	Close() error
}

// SQLStore implements Store on sqlite, mysql or postgres.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	sb      sq.StatementBuilderType
	loc     *time.Location
}

var _ Store = (*SQLStore)(nil)

// Open ensures the database exists and connects to it with a single
// connection. loc is the zone timestamps are read back in; nil means
// article.EasternFixed. The schema is not touched; call EnsureSchema.
func Open(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location) (*SQLStore, error) {
	if loc == nil {
		loc = article.EasternFixed
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	if err := d.ensureDatabase(ctx, cfg, loc); err != nil {
		return nil, err
	}

	raw, err := d.open(cfg, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDatabase, d.driver, err)
	}
	raw.SetMaxOpenConns(1)
	raw.SetMaxIdleConns(1)

	db := sqlx.NewDb(raw, d.driver)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrDatabase, d.driver, err)
	}

	if d.driver == config.DriverSQLite {
		// encoding only takes effect before the first table is created.
		for _, pragma := range []string{"PRAGMA encoding = 'UTF-8'", "PRAGMA foreign_keys = ON"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%w: %s: %w", ErrDatabase, pragma, err)
			}
		}
	}

	return &SQLStore{
		db:      db,
		dialect: d,
		sb:      sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		loc:     loc,
	}, nil
}

// Location is the zone timestamps are read back in.
func (s *SQLStore) Location() *time.Location {
	return s.loc
}

// EnsureSchema creates both tables when missing. Safe to call repeatedly.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: run migrations: %w", ErrDatabase, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WriteArticles inserts articles that are not stored yet, committing once for
// the whole batch. It returns how many rows were new.
func (s *SQLStore) WriteArticles(ctx context.Context, articles []article.Article) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = s.insertArticles(ctx, tx, articles)
		return err
	})
	return n, err
}

// WriteStatuses inserts status snapshots not stored yet, committing once for
// the whole batch. Every snapshot must reference a stored article.
func (s *SQLStore) WriteStatuses(ctx context.Context, statuses []article.Status) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = s.insertStatuses(ctx, tx, statuses)
		return err
	})
	return n, err
}

// WriteBatch writes articles then statuses in one transaction, so either both
// tables reflect the batch or neither does.
func (s *SQLStore) WriteBatch(ctx context.Context, articles []article.Article, statuses []article.Status) (BatchResult, error) {
	var res BatchResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if res.Articles, err = s.insertArticles(ctx, tx, articles); err != nil {
			return err
		}
		res.Statuses, err = s.insertStatuses(ctx, tx, statuses)
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrDatabase, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrDatabase, err)
	}
	return nil
}

func (s *SQLStore) insertArticles(ctx context.Context, tx *sqlx.Tx, articles []article.Article) (int, error) {
	inserted := 0
	for _, a := range articles {
		q := s.sb.Insert(tableArticles).
			Columns(articleColumns...).
			Values(a.URLKey, a.Link, a.Section, a.Subsection, a.Title, a.Author, a.Abstract, s.dialect.bindTime(a.PublishedDate))
		q = s.dialect.ignoreConflict(q, "url")

		n, err := execInsert(ctx, tx, q)
		if err != nil {
			return 0, fmt.Errorf("%w: insert article %s: %w", ErrDatabase, a.URLKey, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (s *SQLStore) insertStatuses(ctx context.Context, tx *sqlx.Tx, statuses []article.Status) (int, error) {
	inserted := 0
	for _, st := range statuses {
		q := s.sb.Insert(tableStatuses).
			Columns(statusColumns...).
			Values(st.URLKey, st.Title, s.dialect.bindTime(st.UpdatedDate))
		q = s.dialect.ignoreConflict(q, "url", "updated_date")

		n, err := execInsert(ctx, tx, q)
		if err != nil {
			return 0, fmt.Errorf("%w: insert status %s@%s: %w", ErrDatabase, st.URLKey, st.UpdatedDate.Format(time.RFC3339), err)
		}
		inserted += n
	}
	return inserted, nil
}

func execInsert(ctx context.Context, tx *sqlx.Tx, q sq.InsertBuilder) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	// MySQL reports 2 for an upsert that changed a row; ours never does.
	if n > 1 {
		n = 1
	}
	return int(n), nil
}

func (s *SQLStore) GetArticle(ctx context.Context, urlKey string) (*article.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).
		From(tableArticles).
		Where(sq.Eq{"url": urlKey}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build get article: %w", ErrDatabase, err)
	}

	var a article.Article
	if err := s.db.GetContext(ctx, &a, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("article %s: %w", urlKey, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get article %s: %w", ErrDatabase, urlKey, err)
	}
	a.PublishedDate = a.PublishedDate.In(s.loc)
	return &a, nil
}

func (s *SQLStore) ListArticles(ctx context.Context, opts ListOpts) ([]article.Article, error) {
	b := s.sb.Select(articleColumns...).From(tableArticles)
	if opts.Section != "" {
		b = b.Where(sq.Eq{"section": opts.Section})
	}
	if !opts.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"published_date": s.dialect.bindTime(opts.Since)})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query, args, err := b.OrderBy("published_date DESC", "url").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build list articles: %w", ErrDatabase, err)
	}

	var articles []article.Article
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list articles: %w", ErrDatabase, err)
	}
	for i := range articles {
		articles[i].PublishedDate = articles[i].PublishedDate.In(s.loc)
	}
	return articles, nil
}

// ListStatuses returns the snapshots of one article, oldest first.
func (s *SQLStore) ListStatuses(ctx context.Context, urlKey string) ([]article.Status, error) {
	query, args, err := s.sb.Select(statusColumns...).
		From(tableStatuses).
		Where(sq.Eq{"url": urlKey}).
		OrderBy("updated_date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build list statuses: %w", ErrDatabase, err)
	}

	var statuses []article.Status
	if err := s.db.SelectContext(ctx, &statuses, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list statuses %s: %w", ErrDatabase, urlKey, err)
	}
	for i := range statuses {
		statuses[i].UpdatedDate = statuses[i].UpdatedDate.In(s.loc)
	}
	return statuses, nil
}

func (s *SQLStore) Count(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.GetContext(ctx, &c.Articles, "SELECT COUNT(*) FROM "+tableArticles); err != nil {
		return Counts{}, fmt.Errorf("%w: count articles: %w", ErrDatabase, err)
	}
	if err := s.db.GetContext(ctx, &c.Statuses, "SELECT COUNT(*) FROM "+tableStatuses); err != nil {
		return Counts{}, fmt.Errorf("%w: count statuses: %w", ErrDatabase, err)
	}
	return c, nil
}
