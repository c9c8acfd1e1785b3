package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashetl/internal/metrics"
	"dashetl/internal/rules"
)

const profileYAML = `
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

const page = `<html><body>
<div id="price">$97,001.10</div>
<div id="height">875,000</div>
<table id="dist">
  <thead><tr><th>Category</th><th>Addresses</th></tr></thead>
  <tbody>
    <tr><td>0 - 0.001</td><td>12,000,000</td></tr>
    <tr><td>0.001 - 0.01</td></tr>
  </tbody>
</table>
</body></html>`

type stepRecorder struct {
	mu    sync.Mutex
	steps map[string]string
}

func (r *stepRecorder) IncCounter(name string, _ float64, labels metrics.Labels) {
	if name != metrics.StepTotal {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[labels["step"]] = labels["status"]
}

func (r *stepRecorder) ObserveHistogram(string, float64, metrics.Labels) {}
func (r *stepRecorder) Flush() error                                    { return nil }

func testProfile(t *testing.T) *rules.Profile {
	t.Helper()
	p, err := rules.Parse([]byte(profileYAML), ".yaml")
	require.NoError(t, err)
	return p
}

func fixedClock(ts time.Time) Option {
	return WithClock(func() time.Time { return ts })
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

// Tests here swap the process-wide metrics backend and run sequentially.
func TestScraper_Run(t *testing.T) {
	rec := &stepRecorder{steps: map[string]string{}}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	dir := t.TempDir()
	fetch := func(context.Context) (string, error) { return page, nil }
	s, err := New(fetch, testProfile(t), dir, fixedClock(time.Date(2025, 10, 6, 14, 0, 0, 0, time.FixedZone("x", 3600))))
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 10, 6, 13, 0, 0, 0, time.UTC), res.Timestamp)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, []string{
		filepath.Join(dir, "market_overview.csv"),
		filepath.Join(dir, "mining.csv"),
		filepath.Join(dir, "address_distribution.csv"),
	}, res.Files)
	assert.Equal(t, filepath.Join(dir, "raw_data.json"), res.RawJSON)

	assert.Equal(t,
		"TIMESTAMP,LIVE_PRICE,BLOCK_HEIGHT\n2025-10-06T13:00:00.000000Z,97001.1,875000\n",
		readFile(t, res.Files[0]))
	assert.Equal(t, "TIMESTAMP,HASHRATE\n2025-10-06T13:00:00.000000Z,\n", readFile(t, res.Files[1]))

	dist := strings.Split(strings.TrimSpace(readFile(t, res.Files[2])), "\n")
	require.Len(t, dist, 3)
	assert.Equal(t, "TIMESTAMP,ROW_HASH,category,addresses", dist[0])
	assert.True(t, strings.HasSuffix(dist[1], ",0 - 0.001,\"12,000,000\""), dist[1])
	assert.True(t, strings.HasSuffix(dist[2], ",0.001 - 0.01,"), dist[2])

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, res.RawJSON)), &raw))
	assert.Equal(t, map[string]any{
		"LIVE_PRICE":   "$97,001.10",
		"BLOCK_HEIGHT": "875,000",
		"HASHRATE":     nil,
	}, raw["raw_data"])

	assert.Equal(t, map[string]string{
		"fetch":    "ok",
		"parse":    "ok",
		"extract":  "ok",
		"assemble": "ok",
		"write":    "ok",
		"scrape":   "ok",
	}, rec.steps)
}

func TestScraper_RunAppends(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 10, 6, 14, 0, 0, 0, time.UTC)
	fetch := func(context.Context) (string, error) { return page, nil }

	for i := 0; i < 2; i++ {
		s, err := New(fetch, testProfile(t), dir, fixedClock(ts.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		_, err = s.Run(context.Background())
		require.NoError(t, err)
	}

	lines := strings.Split(strings.TrimSpace(readFile(t, filepath.Join(dir, "market_overview.csv"))), "\n")
	assert.Equal(t, []string{
		"TIMESTAMP,LIVE_PRICE,BLOCK_HEIGHT",
		"2025-10-06T14:00:00.000000Z,97001.1,875000",
		"2025-10-06T15:00:00.000000Z,97001.1,875000",
	}, lines)
}

func TestScraper_FetchError(t *testing.T) {
	rec := &stepRecorder{steps: map[string]string{}}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	dir := t.TempDir()
	boom := errors.New("render unavailable")
	s, err := New(func(context.Context) (string, error) { return "", boom }, testProfile(t), dir)
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]string{"fetch": "error", "scrape": "error"}, rec.steps)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScraper_EmptyPage(t *testing.T) {
	dir := t.TempDir()
	s, err := New(func(context.Context) (string, error) { return "", nil }, testProfile(t), dir)
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found)
	assert.Equal(t, 3, res.Missing)
	// Group rows are still written with empty cells; the missing table is not.
	assert.Len(t, res.Files, 2)
}

func TestNew_Validation(t *testing.T) {
	p := testProfile(t)
	fetch := func(context.Context) (string, error) { return "", nil }

	_, err := New(nil, p, "out")
	assert.Error(t, err)
	_, err = New(fetch, nil, "out")
	assert.Error(t, err)
	_, err = New(fetch, p, " ")
	assert.Error(t, err)
}
