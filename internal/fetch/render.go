package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dashetl/internal/metrics"
)

// DefaultRenderEndpoint is the hosted rendering API.
const DefaultRenderEndpoint = "https://api.firecrawl.dev"

// RenderOptions configures a RenderClient.
type RenderOptions struct {
	// Endpoint is the API base URL. Defaults to DefaultRenderEndpoint.
	Endpoint string
	// APIKey is sent as a bearer token. Required.
	APIKey  string
	Timeout time.Duration

	// Optional collaborators; nil disables each.
	Limiter *Limiter
	Cache   *Cache
	Robots  *RobotsChecker
}

// RenderClient asks a remote browser service to load a page and return the
// rendered HTML. It does not retry.
type RenderClient struct {
	http    *resty.Client
	limiter *Limiter
	cache   *Cache
	robots  *RobotsChecker
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		HTML string `json:"html"`
	} `json:"data"`
}

// NewRenderClient builds a client from opts.
func NewRenderClient(opts RenderOptions) (*RenderClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("render: missing api key")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultRenderEndpoint
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetAuthToken(opts.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", DefaultUserAgent)
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}

	return &RenderClient{
		http:    c,
		limiter: opts.Limiter,
		cache:   opts.Cache,
		robots:  opts.Robots,
	}, nil
}

// Render returns the rendered HTML of pageURL, from the cache when it holds
// a live copy.
func (c *RenderClient) Render(ctx context.Context, pageURL string) (string, error) {
	if c.cache != nil {
		if html, ok := c.cache.Get(pageURL); ok {
			return html, nil
		}
	}
	return c.render(ctx, pageURL)
}

// Refresh always calls the render API and replaces any cached copy.
func (c *RenderClient) Refresh(ctx context.Context, pageURL string) (string, error) {
	return c.render(ctx, pageURL)
}

func (c *RenderClient) render(ctx context.Context, pageURL string) (string, error) {
	if c.robots != nil {
		if err := c.robots.Check(ctx, pageURL); err != nil {
			return "", err
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, pageURL); err != nil {
			return "", fmt.Errorf("render: wait: %w", err)
		}
	}

	var out scrapeResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(scrapeRequest{URL: pageURL, Formats: []string{"html"}}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/scrape")
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0)
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	metrics.RecordHTTP(resp.StatusCode(), nil, resp.Time(), resp.Size())

	if resp.IsError() {
		body := resp.Body()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return "", fmt.Errorf("render %s: http status %d: %s", pageURL, resp.StatusCode(), strings.TrimSpace(string(body)))
	}
	if !out.Success {
		return "", fmt.Errorf("render %s: unsuccessful: %s", pageURL, out.Error)
	}
	if out.Data.HTML == "" {
		return "", fmt.Errorf("render %s: empty html", pageURL)
	}

	if c.cache != nil {
		c.cache.Set(pageURL, out.Data.HTML)
	}
	return out.Data.HTML, nil
}
