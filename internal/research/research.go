// Package research fetches introductory extracts from the Wikipedia API.
// It is the processor workers run claimed jobs through.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezkam/fieldguide/internal/domain"
)

const (
	defaultBaseURL = "https://en.wikipedia.org"
	defaultTimeout = 15 * time.Second

	// Wikipedia asks API consumers to identify themselves.
	userAgent = "fieldguide/1.0 (https://github.com/rezkam/fieldguide)"
)

// Client queries the MediaWiki extracts API for the plain-text introduction
// of the article named by a job.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithBaseURL points the client at a different MediaWiki instance.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// New creates a Client for the English Wikipedia unless configured otherwise.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// queryResponse is the formatversion=2 shape of an extracts query.
type queryResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// Process fetches the introduction of the article named by the job.
// Returns a body with the extract under "research". A missing page or an
// empty extract is a processing failure so the job goes through the retry
// policy like any other error.
func (c *Client) Process(ctx context.Context, job *domain.Job) (map[string]any, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("titles", job.Name)
	params.Set("format", "json")
	params.Set("formatversion", "2")

	reqURL := c.baseURL + "/w/api.php?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build wikipedia request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch wikipedia extract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("wikipedia returned HTTP %d: %s", resp.StatusCode, string(snippet))
	}

	var result queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode wikipedia response: %w", err)
	}

	if len(result.Query.Pages) == 0 {
		return nil, fmt.Errorf("wikipedia returned no pages for %q", job.Name)
	}
	page := result.Query.Pages[0]
	if page.Missing {
		return nil, fmt.Errorf("no wikipedia page for %q", job.Name)
	}
	if page.Extract == "" {
		return nil, fmt.Errorf("wikipedia page %q has no extract", page.Title)
	}

	return map[string]any{"research": page.Extract}, nil
}
