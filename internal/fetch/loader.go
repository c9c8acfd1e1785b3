// Package fetch obtains dashboard HTML: from a saved file, stdin, a direct
// HTTP GET, or a remote page-rendering API for pages that need JavaScript.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"dashetl/internal/metrics"
)

// DefaultUserAgent identifies direct fetches and robots.txt checks.
const DefaultUserAgent = "dashetl/1.0"

// maxErrorBody bounds the response excerpt included in HTTP errors.
const maxErrorBody = 4096

// Input describes where HTML should come from. Path wins over URL; when
// both are empty, Stdin is read.
type Input struct {
	// Path is a saved HTML file.
	Path string

	// URL, if provided, is fetched via HTTP GET.
	URL string

	// Stdin is used when Path and URL are empty. If nil, stdin reads as empty.
	Stdin io.Reader
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewLoader creates a Loader. If client is nil, http.DefaultClient is used.
func NewLoader(client *http.Client, timeout time.Duration) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:    client,
		timeout:   timeout,
		userAgent: DefaultUserAgent,
	}
}

// Load returns the HTML for input.
//
// On non-2xx HTTP responses, Load returns an error that includes the status
// code and up to 4KB of the response body.
func (l *Loader) Load(ctx context.Context, input Input) (string, error) {
	switch {
	case strings.TrimSpace(input.Path) != "":
		b, err := os.ReadFile(input.Path)
		if err != nil {
			return "", fmt.Errorf("read html file: %w", err)
		}
		return string(b), nil

	case strings.TrimSpace(input.URL) != "":
		return l.get(ctx, input.URL)

	default:
		if input.Stdin == nil {
			return "", nil
		}
		b, err := io.ReadAll(input.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
}

func (l *Loader) get(ctx context.Context, url string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.RecordHTTP(0, err, time.Since(start), 0)
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.RecordHTTP(resp.StatusCode, nil, time.Since(start), int64(len(body)))
		return "", fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b, err := io.ReadAll(resp.Body)
	metrics.RecordHTTP(resp.StatusCode, err, time.Since(start), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}
