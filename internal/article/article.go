// Package article turns Top Stories API records into the two row shapes the
// store persists: time-invariant article metadata and time-varying status
// snapshots.
package article

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/elonfeng/topstories/pkg/topstories"
)

// ErrDataShape marks records missing a required field or carrying a value
// that cannot be parsed.
var ErrDataShape = errors.New("data shape error")

// TimestampLayout is the API's published_date/updated_date format.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

// EasternFixed is the fixed UTC-05:00 offset timestamps are stored in unless
// configured otherwise. It does not follow daylight saving time.
var EasternFixed = time.FixedZone("UTC-05:00", -5*60*60)

const keyLength = 16

// Article is the time-invariant part of a story. Rows are never updated.
type Article struct {
	URLKey        string    `db:"url" json:"url_key"`
	Link          string    `db:"link" json:"link"`
	Section       string    `db:"section" json:"section"`
	Subsection    string    `db:"subsection" json:"subsection"`
	Title         string    `db:"title" json:"title"`
	Author        string    `db:"author" json:"author"`
	Abstract      string    `db:"abstract" json:"abstract"`
	PublishedDate time.Time `db:"published_date" json:"published_date"`
}

// Status is one snapshot of the time-varying part of a story.
type Status struct {
	URLKey      string    `db:"url" json:"url_key"`
	Title       string    `db:"title" json:"title"`
	UpdatedDate time.Time `db:"updated_date" json:"updated_date"`
}

// URLKey derives the identity key of an article from its canonical link.
// Links differing only in scheme/host case, query, fragment or a trailing
// slash share a key.
func URLKey(link string) (string, error) {
	canonical, err := Canonical(link)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:keyLength], nil
}

// Canonical normalises an article link.
func Canonical(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("%w: empty url", ErrDataShape)
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: parse url %q: %w", ErrDataShape, link, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrDataShape, link)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// FormatAuthor strips a leading "By " from a byline and title-cases the rest.
// ok is false when the byline does not carry the prefix; the text is then
// returned title-cased but otherwise untouched.
func FormatAuthor(byline string) (author string, ok bool) {
	byline = strings.TrimSpace(byline)
	if len(byline) >= 3 && strings.EqualFold(byline[:3], "by ") {
		return titleCase(strings.TrimSpace(byline[3:])), true
	}
	return titleCase(byline), false
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// ParseTimestamp parses an API timestamp and expresses it in zone. A nil zone
// means EasternFixed.
func ParseTimestamp(s string, zone *time.Location) (time.Time, error) {
	if zone == nil {
		zone = EasternFixed
	}
	t, err := time.Parse(TimestampLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp %q: %w", ErrDataShape, s, err)
	}
	return t.In(zone), nil
}

// FromStory converts one API record into its article and status rows.
// Warnings describe data-quality problems that did not prevent conversion.
func FromStory(s topstories.Story, zone *time.Location) (Article, Status, []string, error) {
	var warnings []string

	if len(s.Missing) > 0 {
		return Article{}, Status{}, nil, fmt.Errorf("%w: story %q lacks %s", ErrDataShape, s.URL, strings.Join(s.Missing, ", "))
	}
	if strings.TrimSpace(s.Title) == "" {
		return Article{}, Status{}, nil, fmt.Errorf("%w: story %q has no title", ErrDataShape, s.URL)
	}

	link, err := Canonical(s.URL)
	if err != nil {
		return Article{}, Status{}, nil, err
	}
	key, err := URLKey(link)
	if err != nil {
		return Article{}, Status{}, nil, err
	}

	published, err := ParseTimestamp(s.PublishedDate, zone)
	if err != nil {
		return Article{}, Status{}, nil, fmt.Errorf("published_date of %s: %w", key, err)
	}
	updated, err := ParseTimestamp(s.UpdatedDate, zone)
	if err != nil {
		return Article{}, Status{}, nil, fmt.Errorf("updated_date of %s: %w", key, err)
	}

	author, ok := FormatAuthor(s.Byline)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("byline %q has no \"By \" prefix", s.Byline))
	}

	a := Article{
		URLKey:        key,
		Link:          link,
		Section:       s.Section,
		Subsection:    s.Subsection,
		Title:         s.Title,
		Author:        author,
		Abstract:      s.Abstract,
		PublishedDate: published,
	}
	st := Status{
		URLKey:      key,
		Title:       s.Title,
		UpdatedDate: updated,
	}
	return a, st, warnings, nil
}
