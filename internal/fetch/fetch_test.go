package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Stdin(t *testing.T) {
	t.Parallel()

	l := NewLoader(http.DefaultClient, time.Second)
	html, err := l.Load(context.Background(), Input{Stdin: bytes.NewBufferString("<p>x</p>")})
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", html)

	html, err = l.Load(context.Background(), Input{})
	require.NoError(t, err)
	assert.Empty(t, html)
}

func TestLoader_PathWinsOverURL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte("<html>saved</html>"), 0o644))

	l := NewLoader(nil, time.Second)
	html, err := l.Load(context.Background(), Input{Path: path, URL: "http://127.0.0.1:1/unused"})
	require.NoError(t, err)
	assert.Equal(t, "<html>saved</html>", html)

	_, err = l.Load(context.Background(), Input{Path: filepath.Join(t.TempDir(), "missing.html")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoader_URL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>live</html>"))
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(srv.Client(), 2*time.Second)
	html, err := l.Load(context.Background(), Input{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "<html>live</html>", html)
}

// TestLoader_URL_Non2xx verifies the error carries the status code and a
// body excerpt.
func TestLoader_URL_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(&http.Client{Timeout: 2 * time.Second}, 2*time.Second)
	_, err := l.Load(context.Background(), Input{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 403")
	assert.Contains(t, err.Error(), "nope")
}

type renderServer struct {
	calls   atomic.Int32
	status  int
	payload any
	robots  string
}

func (s *renderServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if s.robots == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(s.robots))
			return
		}

		s.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))

		var req scrapeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"html"}, req.Formats)

		w.Header().Set("Content-Type", "application/json")
		status := s.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(s.payload)
	})
}

func okPayload(html string) map[string]any {
	return map[string]any{"success": true, "data": map[string]any{"html": html}}
}

func TestRenderClient_RenderAndCache(t *testing.T) {
	t.Parallel()

	rs := &renderServer{payload: okPayload("<html>rendered</html>")}
	srv := httptest.NewServer(rs.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewRenderClient(RenderOptions{
		Endpoint: srv.URL + "/",
		APIKey:   "k3y",
		Timeout:  2 * time.Second,
		Cache:    NewCache(time.Minute),
		Limiter:  NewLimiter(0, 1),
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		html, err := c.Render(context.Background(), "https://newhedge.io/bitcoin")
		require.NoError(t, err)
		assert.Equal(t, "<html>rendered</html>", html)
	}
	assert.Equal(t, int32(1), rs.calls.Load())
}

func TestRenderClient_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		payload any
		want    string
	}{
		{name: "http error", status: http.StatusPaymentRequired, payload: map[string]any{"success": false, "error": "out of credits"}, want: "http status 402"},
		{name: "unsuccessful", payload: map[string]any{"success": false, "error": "timeout"}, want: "unsuccessful: timeout"},
		{name: "empty html", payload: okPayload(""), want: "empty html"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rs := &renderServer{status: tc.status, payload: tc.payload}
			srv := httptest.NewServer(rs.handler(t))
			t.Cleanup(srv.Close)

			c, err := NewRenderClient(RenderOptions{Endpoint: srv.URL, APIKey: "k3y"})
			require.NoError(t, err)

			_, err = c.Render(context.Background(), "https://newhedge.io/bitcoin")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNewRenderClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewRenderClient(RenderOptions{APIKey: "  "})
	assert.Error(t, err)
}

func TestRenderClient_RobotsDisallowed(t *testing.T) {
	t.Parallel()

	rs := &renderServer{payload: okPayload("<html/>"), robots: "User-agent: *\nDisallow: /private\n"}
	srv := httptest.NewServer(rs.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewRenderClient(RenderOptions{
		Endpoint: srv.URL,
		APIKey:   "k3y",
		Robots:   NewRobotsChecker(srv.Client(), ""),
	})
	require.NoError(t, err)

	_, err = c.Render(context.Background(), srv.URL+"/private/page")
	assert.True(t, errors.Is(err, ErrRobotsDisallowed))
	assert.Equal(t, int32(0), rs.calls.Load())

	html, err := c.Render(context.Background(), srv.URL+"/public")
	require.NoError(t, err)
	assert.Equal(t, "<html/>", html)
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	r := NewRobotsChecker(srv.Client(), "")
	assert.NoError(t, r.Check(context.Background(), srv.URL+"/anything"))
	assert.NoError(t, r.Check(context.Background(), "http://127.0.0.1:1/unreachable"))
}

func TestRobotsChecker_CancelledContextRefuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRobotsChecker(srv.Client(), "")
	assert.ErrorIs(t, r.Check(ctx, srv.URL+"/anything"), context.Canceled)

	rs := &renderServer{payload: okPayload("<html/>")}
	rsrv := httptest.NewServer(rs.handler(t))
	t.Cleanup(rsrv.Close)

	c, err := NewRenderClient(RenderOptions{Endpoint: rsrv.URL, APIKey: "k3y", Robots: r})
	require.NoError(t, err)
	_, err = c.Render(ctx, rsrv.URL+"/page")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), rs.calls.Load())
}

func TestRenderClient_RefreshSkipsCache(t *testing.T) {
	t.Parallel()

	rs := &renderServer{payload: okPayload("<html>rendered</html>")}
	srv := httptest.NewServer(rs.handler(t))
	t.Cleanup(srv.Close)

	cache := NewCache(time.Minute)
	c, err := NewRenderClient(RenderOptions{Endpoint: srv.URL, APIKey: "k3y", Cache: cache})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := c.Refresh(context.Background(), "https://newhedge.io/bitcoin")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), rs.calls.Load())
	assert.Equal(t, 1, cache.Len(), "refreshed page is still cached for Render")
}

func TestLimiter_CancelledContext(t *testing.T) {
	t.Parallel()

	l := NewLimiter(0.001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://newhedge.io/a"))

	cancel()
	assert.Error(t, l.Wait(ctx, "https://newhedge.io/b"))

	// Other hosts have their own bucket.
	assert.NoError(t, l.Wait(context.Background(), "https://example.com/"))
}

func TestCache(t *testing.T) {
	t.Parallel()

	c := NewCache(time.Minute)
	_, ok := c.Get("u")
	assert.False(t, ok)

	c.Set("u", "<html/>")
	got, ok := c.Get("u")
	assert.True(t, ok)
	assert.Equal(t, "<html/>", got)
	assert.Equal(t, 1, c.Len())
}
