package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashetl/internal/config"
	"dashetl/internal/metrics"
	"dashetl/internal/metrics/datadog"
)

const testRules = `
fields:
  - {name: LIVE_PRICE, kind: magnitude, selector: "#price"}
  - {name: BLOCK_HEIGHT, kind: integer, selector: "#height"}
  - {name: HASHRATE, kind: magnitude, selector: "#hashrate"}
tables:
  - name: address_distribution
    find: id
    table_id: dist
    columns: [category, addresses]
groups:
  - name: market_overview
    table: MARKET_DATA
    columns:
      - {name: LIVE_PRICE}
      - {name: BLOCK_HEIGHT}
  - name: mining
    columns:
      - {name: HASHRATE}
`

const testPage = `<html><body>
<div id="price">$97,001.10</div>
<div id="height">875,000</div>
<table id="dist"><tbody>
  <tr><td>0 - 0.001</td><td>12,000,000</td></tr>
  <tr><td>0.001 - 0.01</td><td>4,100,000</td></tr>
</tbody></table>
</body></html>`

type env struct {
	dir    string
	cfg    string
	rules  string
	page   string
	outDir string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:    dir,
		cfg:    filepath.Join(dir, "dashetl.yaml"),
		rules:  filepath.Join(dir, "rules.yaml"),
		page:   filepath.Join(dir, "page.html"),
		outDir: filepath.Join(dir, "data"),
	}
	cfg := fmt.Sprintf(`
output:
  dir: %q
  xlsx: dashboard.xlsx
storage:
  kind: sqlite
  dsn: %q
rules:
  path: %q
log:
  level: error
  format: json
`, e.outDir, filepath.Join(dir, "warehouse.db"), e.rules)
	require.NoError(t, os.WriteFile(e.cfg, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(e.rules, []byte(testRules), 0o600))
	require.NoError(t, os.WriteFile(e.page, []byte(testPage), 0o600))
	return e
}

func (e env) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--config", e.cfg}, args...), strings.NewReader(testPage), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	t.Parallel()
	code, out, stderr := newEnv(t).run(t, "version")
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(out, "dashetl dev ("), out)
}

func TestRun_RulesValidate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	code, out, stderr := e.run(t, "rules", "validate")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, e.rules+": ok (3 fields, 1 tables, 2 groups, 3 warehouse tables)\n", out)

	bad := filepath.Join(e.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("fields: []\n"), 0o600))
	code, _, stderr = e.run(t, "rules", "validate", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestRun_RulesValidateEmbedded(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	code, out, stderr := e.run(t, "--rules", "", "rules", "validate")
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(out, e.rules+": ok"), out)

	// An empty rules.path selects the embedded profile.
	cfg := filepath.Join(e.dir, "embedded.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log:\n  level: error\n"), 0o600))
	var stdout, stderr2 bytes.Buffer
	code = run(context.Background(), []string{"--config", cfg, "rules", "validate"}, nil, &stdout, &stderr2)
	require.Equal(t, 0, code, stderr2.String())
	assert.True(t, strings.HasPrefix(stdout.String(), "embedded profile: ok"), stdout.String())
}

func TestRun_ScrapeLoadExport(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	code, out, stderr := e.run(t, "scrape", "--file", e.page)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "scraped 2 fields (1 missing) into 3 files\n", out)
	for _, name := range []string{"market_overview.csv", "mining.csv", "address_distribution.csv", "raw_data.json"} {
		assert.FileExists(t, filepath.Join(e.outDir, name))
	}

	code, out, stderr = e.run(t, "load")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "MARKET_DATA")
	assert.Contains(t, out, "ADDRESS_DISTRIBUTION")
	assert.Contains(t, out, "market_overview.csv")

	// A second load inserts nothing new.
	code, out, stderr = e.run(t, "load")
	require.Equal(t, 0, code, stderr)
	assert.Regexp(t, `(?i)total\s*│\s*4\s*│\s*0\s*│`, out)

	code, out, stderr = e.run(t, "export")
	require.Equal(t, 0, code, stderr)
	exportDir := filepath.Join(e.outDir, "export")
	assert.Equal(t, strings.Join([]string{
		filepath.Join(exportDir, "MARKET_DATA.csv"),
		filepath.Join(exportDir, "MINING.csv"),
		filepath.Join(exportDir, "ADDRESS_DISTRIBUTION.csv"),
		filepath.Join(exportDir, "dashboard.xlsx"),
	}, "\n")+"\n", out)

	b, err := os.ReadFile(filepath.Join(exportDir, "MARKET_DATA.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "TIMESTAMP,LIVE_PRICE,BLOCK_HEIGHT", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",97001.1,875000"), lines[1])
}

func TestRun_ScrapeStdinWithLoad(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	code, out, stderr := e.run(t, "scrape", "--stdin", "--load", "--out", filepath.Join(e.dir, "alt"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "scraped 2 fields")
	assert.Contains(t, out, "MINING")
	assert.FileExists(t, filepath.Join(e.dir, "alt", "mining.csv"))
}

func TestRun_Inspect(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	code, out, stderr := e.run(t, "inspect", "--file", e.page)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "LIVE_PRICE")
	assert.Contains(t, out, "97001.1")
	assert.Contains(t, out, "2 / 3")

	code, out, stderr = e.run(t, "inspect", "--file", e.page, "--missing")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "HASHRATE")
	assert.NotContains(t, out, "LIVE_PRICE")

	code, out, stderr = e.run(t, "inspect", "--file", e.page, "--tables")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "address_distribution")
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{"unknown_command", []string{"nope"}, 2, "unknown command"},
		{"unknown_flag", []string{"scrape", "--nope"}, 2, "unknown flag"},
		{"extra_args", []string{"version", "extra"}, 2, "unknown command"},
		{"too_many_rules_args", []string{"rules", "validate", "a", "b"}, 2, "accepts at most 1 arg"},
		{"missing_page", []string{"scrape", "--file", filepath.Join(e.dir, "missing.html")}, 1, "fetch:"},
		{"export_unknown_table", []string{"export", "--table", "NOPE"}, 1, "export NOPE"},
		{"bad_config", []string{"--config", filepath.Join(e.dir, "missing.yaml"), "version"}, 1, "read config"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, _, stderr := e.run(t, tc.args...)
			assert.Equal(t, tc.wantCode, code, stderr)
			assert.Contains(t, stderr, tc.wantErr)
		})
	}
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error                                     { return nil }
func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// The initMetrics tests swap package-level seams and do not run in parallel.
func TestInitMetrics_None(t *testing.T) {
	oldSet := setMetricsBackend
	t.Cleanup(func() { setMetricsBackend = oldSet })
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), config.MetricsConfig{Backend: name}, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, cleanup)
		cleanup()
	}
}

func TestInitMetrics_Datadog(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet := newDatadogBackend, setMetricsBackend
	t.Cleanup(func() {
		newDatadogBackend = oldNew
		setMetricsBackend = oldSet
	})

	var gotOpts datadog.Options
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	var set []metrics.Backend
	setMetricsBackend = func(mb metrics.Backend) { set = append(set, mb) }

	var logged bytes.Buffer
	cleanup, err := initMetrics(context.Background(), config.MetricsConfig{
		Backend:    "datadog",
		Job:        "dashetl-test",
		Tags:       []string{"team:data"},
		FlushEvery: time.Minute,
	}, zerolog.New(&logged))
	require.NoError(t, err)

	assert.Equal(t, datadog.Options{JobName: "dashetl-test", Tags: []string{"team:data"}, FlushEvery: time.Minute}, gotOpts)
	require.Len(t, set, 1)
	assert.Same(t, b, set[0])

	cleanup()
	assert.EqualValues(t, 1, b.closed.Load())
	require.Len(t, set, 2)
	assert.Nil(t, set[1])
	assert.Contains(t, logged.String(), "metrics: datadog close error")
}

func TestInitMetrics_Errors(t *testing.T) {
	oldNew := newDatadogBackend
	t.Cleanup(func() { newDatadogBackend = oldNew })
	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) {
		return nil, errors.New("no api key")
	}

	_, err := initMetrics(context.Background(), config.MetricsConfig{Backend: "datadog"}, zerolog.Nop())
	assert.ErrorContains(t, err, "no api key")

	_, err = initMetrics(context.Background(), config.MetricsConfig{Backend: "statsd"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown metrics backend")
}

func TestRun_ConfigShow(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "fc-secret")
	e := newEnv(t)

	code, out, stderr := e.run(t, "config", "show")
	require.Equal(t, 0, code, stderr)
	assert.Regexp(t, `api_key: ['"]\*{4}['"]`, out)
	assert.NotContains(t, out, "fc-secret")
	assert.Contains(t, out, "kind: sqlite")
	assert.Contains(t, out, "timeout: 1m0s")
}

func TestFetchFunc_FreshBypassesRenderCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"data":{"html":"<p id=\"price\">$%d</p>"}}`, n)
	}))
	t.Cleanup(srv.Close)

	a := newApp(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	a.cfg = &config.Config{Source: config.SourceConfig{
		URL:            "https://newhedge.io/bitcoin",
		RenderEndpoint: srv.URL,
		APIKey:         "k3y",
		Timeout:        2 * time.Second,
		CacheTTL:       5 * time.Minute,
	}}
	ctx := context.Background()

	cached, err := a.fetchFunc(sourceFlags{})
	require.NoError(t, err)
	first, err := cached(ctx)
	require.NoError(t, err)
	second, err := cached(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	// Two scrape ticks share one fetch func and must both reach the API.
	fresh, err := a.fetchFunc(sourceFlags{fresh: true})
	require.NoError(t, err)
	tick1, err := fresh(ctx)
	require.NoError(t, err)
	tick2, err := fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, `<p id="price">$2</p>`, tick1)
	assert.Equal(t, `<p id="price">$3</p>`, tick2)
	assert.Equal(t, int32(3), hits.Load())
}
