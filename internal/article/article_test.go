package article

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/topstories/pkg/topstories"
)

func TestFormatAuthor(t *testing.T) {
	tests := []struct {
		byline string
		want   string
		ok     bool
	}{
		{"By Jane Doe", "Jane Doe", true},
		{"By JANE DOE AND JOHN SMITH", "Jane Doe And John Smith", true},
		{"by jane doe", "Jane Doe", true},
		{"  By Jane Doe  ", "Jane Doe", true},
		{"Jane Doe", "Jane Doe", false},
		{"By", "By", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.byline, func(t *testing.T) {
			got, ok := FormatAuthor(tt.byline)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2020-01-01T10:00:00-05:00", nil)
	require.NoError(t, err)

	want := time.Date(2020, 1, 1, 10, 0, 0, 0, EasternFixed)
	assert.True(t, want.Equal(got))
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, 1, got.Day())
	_, offset := got.Zone()
	assert.Equal(t, -5*3600, offset)
}

func TestParseTimestampOtherOffset(t *testing.T) {
	// Summer timestamps carry -04:00 and are shifted into the fixed zone.
	got, err := ParseTimestamp("2020-07-01T10:00:00-04:00", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())

	got, err = ParseTimestamp("2020-07-01T10:00:00-04:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())
}

func TestParseTimestampInvalid(t *testing.T) {
	for _, s := range []string{"", "2020-01-01", "yesterday", "2020-01-01T10:00:00Z"} {
		_, err := ParseTimestamp(s, nil)
		assert.ErrorIs(t, err, ErrDataShape, s)
	}
}

func TestURLKey(t *testing.T) {
	a, err := URLKey("https://www.nytimes.com/2020/01/01/world/a.html")
	require.NoError(t, err)
	assert.Len(t, a, 16)

	b, err := URLKey("HTTPS://WWW.NYTIMES.COM/2020/01/01/world/a.html?smid=tw#top")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := URLKey("https://www.nytimes.com/2020/01/01/world/b.html")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = URLKey("")
	assert.ErrorIs(t, err, ErrDataShape)
	_, err = URLKey("not a url")
	assert.ErrorIs(t, err, ErrDataShape)
}

func validStory() topstories.Story {
	return topstories.Story{
		URL:           "https://www.nytimes.com/2020/01/01/us/story.html",
		Section:       "us",
		Subsection:    "politics",
		Title:         "Story Title",
		Byline:        "By Jane Doe",
		Abstract:      "Abstract.",
		PublishedDate: "2020-01-01T10:00:00-05:00",
		UpdatedDate:   "2020-01-01T11:00:00-05:00",
	}
}

func TestFromStory(t *testing.T) {
	a, st, warnings, err := FromStory(validStory(), nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	key, _ := URLKey(validStory().URL)
	assert.Equal(t, key, a.URLKey)
	assert.Equal(t, key, st.URLKey)
	assert.Equal(t, "https://www.nytimes.com/2020/01/01/us/story.html", a.Link)
	assert.Equal(t, "us", a.Section)
	assert.Equal(t, "politics", a.Subsection)
	assert.Equal(t, "Jane Doe", a.Author)
	assert.Equal(t, "Abstract.", a.Abstract)
	assert.True(t, a.PublishedDate.Equal(time.Date(2020, 1, 1, 10, 0, 0, 0, EasternFixed)))
	assert.Equal(t, "Story Title", st.Title)
	assert.True(t, st.UpdatedDate.Equal(time.Date(2020, 1, 1, 11, 0, 0, 0, EasternFixed)))
}

func TestFromStoryBylineWarning(t *testing.T) {
	s := validStory()
	s.Byline = "The Associated Press"

	a, _, warnings, err := FromStory(s, nil)
	require.NoError(t, err)
	assert.Equal(t, "The Associated Press", a.Author)
	assert.Len(t, warnings, 1)
}

func TestFromStoryDataShape(t *testing.T) {
	tests := map[string]func(*topstories.Story){
		"no url":          func(s *topstories.Story) { s.URL = "" },
		"no title":        func(s *topstories.Story) { s.Title = "" },
		"bad published":   func(s *topstories.Story) { s.PublishedDate = "soon" },
		"missing updated": func(s *topstories.Story) { s.UpdatedDate = "" },
		"relative url":    func(s *topstories.Story) { s.URL = "/2020/01/01/us/story.html" },
		"absent abstract": func(s *topstories.Story) { s.Missing = []string{"abstract"} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := validStory()
			mutate(&s)
			_, _, _, err := FromStory(s, nil)
			assert.ErrorIs(t, err, ErrDataShape)
		})
	}
}
