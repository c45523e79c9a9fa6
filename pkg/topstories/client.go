package topstories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the NYT Top Stories v2 endpoint root.
const DefaultBaseURL = "https://api.nytimes.com/svc/topstories/v2"

var (
	// ErrNetwork marks transport failures and non-2xx responses.
	ErrNetwork = errors.New("network error")
	// ErrParse marks bodies that are not JSON or lack the results field.
	ErrParse = errors.New("parse error")
)

// Story is one entry of the results array.
type Story struct {
	URL           string `json:"url"`
	ShortURL      string `json:"short_url"`
	URI           string `json:"uri"`
	Section       string `json:"section"`
	Subsection    string `json:"subsection"`
	Title         string `json:"title"`
	Byline        string `json:"byline"`
	Abstract      string `json:"abstract"`
	PublishedDate string `json:"published_date"`
	UpdatedDate   string `json:"updated_date"`

	// Missing lists the expected fields absent from the record.
	Missing []string `json:"-"`
}

// expectedFields are the keys every stored story is built from.
var expectedFields = []string{"url", "section", "subsection", "title", "byline", "abstract", "published_date", "updated_date"}

func (s *Story) UnmarshalJSON(data []byte) error {
	type plain Story
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	p.Missing = nil
	for _, f := range expectedFields {
		if _, ok := keys[f]; !ok {
			p.Missing = append(p.Missing, f)
		}
	}
	*s = Story(p)
	return nil
}

type envelope struct {
	Status  string           `json:"status"`
	Results *json.RawMessage `json:"results"`
}

// Client fetches one section of top stories.
type Client struct {
	client  *http.Client
	baseURL string
	section string
	apiKey  string
}

// NewClient creates a Top Stories client.
func NewClient(baseURL, section, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if section == "" {
		section = "home"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		section: section,
		apiKey:  apiKey,
	}
}

// Section returns the section this client fetches.
func (c *Client) Section() string { return c.section }

// Fetch performs a single GET and returns the stories in response order.
func (c *Client) Fetch(ctx context.Context) ([]Story, error) {
	endpoint := fmt.Sprintf("%s/%s.json?api-key=%s", c.baseURL, url.PathEscape(c.section), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "topstories/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the api key; do not echo it back in the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: fetch top stories %s: %w", ErrNetwork, c.section, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: top stories %s status %d", ErrNetwork, c.section, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read top stories body: %w", ErrNetwork, err)
	}

	return Decode(body)
}

// Decode extracts the results array from a response body.
func Decode(body []byte) ([]Story, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode top stories: %w", ErrParse, err)
	}
	if env.Results == nil {
		return nil, fmt.Errorf("%w: response has no results field", ErrParse)
	}

	var stories []Story
	if err := json.Unmarshal(*env.Results, &stories); err != nil {
		return nil, fmt.Errorf("%w: decode results: %w", ErrParse, err)
	}
	return stories, nil
}
