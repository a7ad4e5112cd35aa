// Package search provides the web-search driver used by the
// researcher subgraph. The client speaks the Tavily search API but
// any endpoint with the same request/response shape works (the base
// URL is injectable for tests).
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

const defaultBaseURL = "https://api.tavily.com"

// Result is one search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Searcher is the driver contract consumed by the researcher
// subgraph.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Client is an HTTP search driver with driver-side retries for
// transient failures.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   model.RetryPolicy
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p model.RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a search driver.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("search: API key is required")
	}
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   model.DefaultRetryPolicy(graph.IsTransient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search runs one query and returns up to maxResults hits in API
// ranking order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if query == "" {
		return nil, graph.Permanent("tavily.search", errors.New("empty query"))
	}
	if maxResults < 1 {
		maxResults = 1
	}

	var results []Result
	err := c.retry.Do(ctx, func() error {
		hits, callErr := c.search(ctx, query, maxResults)
		if callErr != nil {
			return callErr
		}
		results = hits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, err := json.Marshal(searchRequest{APIKey: c.apiKey, Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, graph.Permanent("tavily.search", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, graph.Permanent("tavily.search", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, graph.Transient("tavily.search", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, graph.Transient("tavily.search", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, graph.Transient("tavily.search", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	default:
		return nil, graph.Permanent("tavily.search", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)))
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, graph.Permanent("tavily.search", fmt.Errorf("decode response: %w", err))
	}
	return decoded.Results, nil
}

func truncate(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ Searcher = (*Client)(nil)
