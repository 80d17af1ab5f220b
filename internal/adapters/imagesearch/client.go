// Package imagesearch talks to the image-search service and checks that
// resolved image URLs are reachable.
package imagesearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client calls an image-search service exposing GET /search?q=.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

type searchResponse struct {
	ImageURL string `json:"image_url"`
	Results  []struct {
		URL string `json:"url"`
	} `json:"results"`
}

// NewClient returns nil when baseURL is empty.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "PharmaStore-Ingest/1.0").
		SetTimeout(timeout)

	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) Search(ctx context.Context, query string) ([]string, error) {
	if !c.IsEnabled() {
		return nil, fmt.Errorf("image search client is not configured")
	}

	var resp searchResponse
	httpResp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		ForceContentType("application/json").
		SetResult(&resp).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("image search request failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("image search error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}

	urls := []string{}
	if u := strings.TrimSpace(resp.ImageURL); u != "" {
		urls = append(urls, u)
	}
	for _, r := range resp.Results {
		if u := strings.TrimSpace(r.URL); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}
