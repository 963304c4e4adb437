// Package webclient queries a SearxNG-compatible web-search endpoint.
package webclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

const defaultTimeout = 10 * time.Second

// Config captures the external search endpoint parameters.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements the WebSearcher interface over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a web-search client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// searchResponse is the provider's JSON result envelope.
type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search issues the query and maps results into WebResults. Providers that
// omit per-result scores get a rank-derived score instead.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]knowledge.WebResult, error) {
	endpoint, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	q.Set("format", "json")
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, knowledge.WrapError(knowledge.KindNetworkError, "web search", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &knowledge.Error{
			Kind:    knowledge.KindHTTPError,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("web search returned %d", resp.StatusCode),
		}
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]knowledge.WebResult, 0, len(body.Results))
	for i, r := range body.Results {
		score := r.Score
		if score <= 0 {
			score = 1.0 / float64(i+1)
		}
		results = append(results, knowledge.WebResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   score,
		})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}
