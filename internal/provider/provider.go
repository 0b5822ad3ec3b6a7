// ABOUTME: HTTP adapter for the external music search/stream provider
// ABOUTME: The coordinator treats provider payloads as opaque JSON
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the provider configured via PROVIDER_URL. A nil Client is a
// valid "provider disabled" state.
type Client struct {
	http *resty.Client
}

// StreamResult is the resolved playback target for a provider track.
type StreamResult struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// New builds a provider client, or nil when baseURL is empty.
func New(baseURL string) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
}

// Search runs a track search and returns the provider payload verbatim.
func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("provider search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("provider search: status %d", resp.StatusCode())
	}
	return json.RawMessage(resp.Body()), nil
}

// Stream resolves a provider track id into a directly fetchable URL.
func (c *Client) Stream(ctx context.Context, trackID string) (StreamResult, error) {
	var result StreamResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", trackID).
		SetResult(&result).
		Get("/stream")
	if err != nil {
		return StreamResult{}, fmt.Errorf("provider stream: %w", err)
	}
	if resp.IsError() {
		return StreamResult{}, fmt.Errorf("provider stream: status %d", resp.StatusCode())
	}
	if result.URL == "" {
		return StreamResult{}, fmt.Errorf("provider stream: empty url for track %s", trackID)
	}
	return result, nil
}
