package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/topstories/internal/article"
	"github.com/elonfeng/topstories/internal/config"
	"github.com/elonfeng/topstories/internal/logging"
	"github.com/elonfeng/topstories/internal/store"
	"github.com/elonfeng/topstories/pkg/topstories"
)

const oneStory = `{
  "status": "OK",
  "section": "home",
  "results": [{
    "section": "us",
    "subsection": "politics",
    "title": "Senate Passes Bill",
    "abstract": "The vote was close.",
    "url": "https://www.nytimes.com/2020/01/01/us/politics/senate-bill.html",
    "byline": "By JANE DOE",
    "published_date": "2020-01-01T10:00:00-05:00",
    "updated_date": "2020-01-01T12:00:00-05:00"
  }]
}`

func openStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ingest.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func serve(t *testing.T, body string) *topstories.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return topstories.NewClient(srv.URL, "home", "test-key", 5*time.Second)
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	p := New(serve(t, oneStory), db, Options{Logger: logging.Discard()})

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.ArticlesInserted)
	assert.Equal(t, 1, res.StatusesInserted)
	assert.Empty(t, res.Warnings)

	key, err := article.URLKey("https://www.nytimes.com/2020/01/01/us/politics/senate-bill.html")
	require.NoError(t, err)

	a, err := db.GetArticle(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Senate Passes Bill", a.Title)
	assert.Equal(t, "Jane Doe", a.Author)
	assert.Equal(t, "politics", a.Subsection)
	assert.True(t, a.PublishedDate.Equal(time.Date(2020, 1, 1, 10, 0, 0, 0, article.EasternFixed)))

	statuses, err := db.ListStatuses(ctx, key)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].UpdatedDate.Equal(time.Date(2020, 1, 1, 12, 0, 0, 0, article.EasternFixed)))

	// A second run over the same response inserts nothing.
	res, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ArticlesInserted)
	assert.Equal(t, 0, res.StatusesInserted)

	c, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Articles: 1, Statuses: 1}, c)
}

func TestRunNewSnapshot(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	_, err := New(serve(t, oneStory), db, Options{Logger: logging.Discard()}).Run(ctx)
	require.NoError(t, err)

	updated := `{"results":[{
	  "section": "us", "subsection": "politics",
	  "title": "Senate Passes Bill, House Next",
	  "abstract": "The vote was close.",
	  "url": "https://www.nytimes.com/2020/01/01/us/politics/senate-bill.html",
	  "byline": "By JANE DOE",
	  "published_date": "2020-01-01T10:00:00-05:00",
	  "updated_date": "2020-01-01T15:00:00-05:00"
	}]}`
	res, err := New(serve(t, updated), db, Options{Logger: logging.Discard()}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ArticlesInserted)
	assert.Equal(t, 1, res.StatusesInserted)

	c, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Articles: 1, Statuses: 2}, c)
}

const badAndGood = `{"results":[
  {"title":"No Date","url":"https://www.nytimes.com/a.html","section":"us","subsection":"","abstract":"","byline":"By A","published_date":"soon","updated_date":"soon"},
  {"title":"Fine","url":"https://www.nytimes.com/b.html","section":"us","subsection":"","abstract":"","byline":"Reuters","published_date":"2020-01-01T10:00:00-05:00","updated_date":"2020-01-01T10:00:00-05:00"}
]}`

func TestRunDataShapeAborts(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	_, err := New(serve(t, badAndGood), db, Options{Logger: logging.Discard()}).Run(ctx)
	require.ErrorIs(t, err, article.ErrDataShape)

	c, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{}, c)
}

func TestRunMissingFieldAborts(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	noByline := `{"results":[{
	  "section": "us", "subsection": "", "title": "Unsigned", "abstract": "",
	  "url": "https://www.nytimes.com/2020/01/01/us/unsigned.html",
	  "published_date": "2020-01-01T10:00:00-05:00",
	  "updated_date": "2020-01-01T10:00:00-05:00"
	}]}`
	_, err := New(serve(t, noByline), db, Options{Logger: logging.Discard()}).Run(ctx)
	require.ErrorIs(t, err, article.ErrDataShape)
	assert.ErrorContains(t, err, "byline")

	c, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{}, c)
}

func TestRunSkipInvalid(t *testing.T) {
	db := openStore(t)

	res, err := New(serve(t, badAndGood), db, Options{SkipInvalid: true, Logger: logging.Discard()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.ArticlesInserted)
	require.Len(t, res.Warnings, 1, "byline without prefix is reported")
}

func TestRunFetchErrors(t *testing.T) {
	db := openStore(t)

	_, err := New(serve(t, `{"status":"OK"}`), db, Options{Logger: logging.Discard()}).Run(context.Background())
	assert.ErrorIs(t, err, topstories.ErrParse)
}

type failingWriter struct{}

func (failingWriter) EnsureSchema(context.Context) error { return nil }

func (failingWriter) WriteBatch(context.Context, []article.Article, []article.Status) (store.BatchResult, error) {
	return store.BatchResult{}, errors.Join(store.ErrDatabase, errors.New("disk full"))
}

func TestRunStoreError(t *testing.T) {
	_, err := New(serve(t, oneStory), failingWriter{}, Options{Logger: logging.Discard()}).Run(context.Background())
	assert.ErrorIs(t, err, store.ErrDatabase)
}
