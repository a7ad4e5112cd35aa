// Package polymarket is the market-catalog driver: tags, events with
// their contained markets, and price history for a market's outcome
// tokens.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"deepresearch/graph"
	"deepresearch/graph/model"
)

// TagPageSize is the catalog page size for tag listing.
const TagPageSize = 20

// Tag is one catalog tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"label"`
}

// Market is one tradable market, flattened out of its parent event
// with the event context attached.
type Market struct {
	Slug         string   `json:"slug"`
	Question     string   `json:"question"`
	Description  string   `json:"description"`
	Rules        string   `json:"rules,omitempty"`
	ClobTokenIDs []string `json:"clobTokenIds"`

	// Parent-event context, attached during flattening.
	EventTitle string `json:"event_title"`
	EventSlug  string `json:"event_slug"`
	EventImage string `json:"event_image"`
}

// Event is one catalog event containing markets.
type Event struct {
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	Image   string        `json:"image"`
	Markets []EventMarket `json:"markets"`
}

// EventMarket is the wire shape: clobTokenIds arrives as a JSON-encoded
// string array inside a string.
type EventMarket struct {
	Slug         string `json:"slug"`
	Question     string `json:"question"`
	Description  string `json:"description"`
	Rules        string `json:"rules"`
	ClobTokenIDs string `json:"clobTokenIds"`
}

// PricePoint is one point of a market price history.
type PricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// Catalog is the driver contract consumed by the market-research
// subgraph.
type Catalog interface {
	FetchTags(ctx context.Context, offset, limit int) ([]Tag, error)
	FetchEventsByTagID(ctx context.Context, tagID string) ([]Event, error)
	FetchPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]PricePoint, error)
}

// Client is the HTTP catalog driver.
type Client struct {
	baseURL string
	http    *http.Client
	retry   model.RetryPolicy
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p model.RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a catalog driver against the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("polymarket: base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   model.DefaultRetryPolicy(graph.IsTransient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchTags returns one page of catalog tags.
func (c *Client) FetchTags(ctx context.Context, offset, limit int) ([]Tag, error) {
	if limit < 1 {
		limit = TagPageSize
	}
	query := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(limit)},
	}
	var tags []Tag
	err := c.getJSON(ctx, "polymarket.fetch_tags", "/tags?"+query.Encode(), &tags)
	return tags, err
}

// FetchEventsByTagID returns all events carrying the tag.
func (c *Client) FetchEventsByTagID(ctx context.Context, tagID string) ([]Event, error) {
	if tagID == "" {
		return nil, graph.Permanent("polymarket.fetch_events", errors.New("empty tag id"))
	}
	query := url.Values{"tag_id": {tagID}, "closed": {"false"}}
	var events []Event
	err := c.getJSON(ctx, "polymarket.fetch_events", "/events?"+query.Encode(), &events)
	return events, err
}

// FetchPriceHistory returns the price series of one outcome token.
func (c *Client) FetchPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]PricePoint, error) {
	if tokenID == "" {
		return nil, graph.Permanent("polymarket.price_history", errors.New("empty token id"))
	}
	query := url.Values{
		"market":   {tokenID},
		"interval": {interval},
		"fidelity": {strconv.Itoa(fidelity)},
	}
	var decoded struct {
		History []PricePoint `json:"history"`
	}
	err := c.getJSON(ctx, "polymarket.price_history", "/prices-history?"+query.Encode(), &decoded)
	return decoded.History, err
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	return c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return graph.Permanent(op, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return graph.Transient(op, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return graph.Transient(op, err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return graph.Transient(op, fmt.Errorf("status %d", resp.StatusCode))
		default:
			return graph.Permanent(op, fmt.Errorf("status %d", resp.StatusCode))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return graph.Permanent(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// FlattenMarkets flattens the markets of a batch of events, attaches
// each market's parent-event context, and deduplicates by market slug
// (first occurrence wins).
func FlattenMarkets(events []Event) []Market {
	var out []Market
	seen := make(map[string]bool)
	for _, ev := range events {
		for _, raw := range ev.Markets {
			if raw.Slug == "" || seen[raw.Slug] {
				continue
			}
			seen[raw.Slug] = true
			out = append(out, Market{
				Slug:         raw.Slug,
				Question:     raw.Question,
				Description:  raw.Description,
				Rules:        raw.Rules,
				ClobTokenIDs: decodeTokenIDs(raw.ClobTokenIDs),
				EventTitle:   ev.Title,
				EventSlug:    ev.Slug,
				EventImage:   ev.Image,
			})
		}
	}
	return out
}

// decodeTokenIDs unpacks the catalog's string-encoded JSON array.
func decodeTokenIDs(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
		return nil
	}
	return ids
}

var _ Catalog = (*Client)(nil)
