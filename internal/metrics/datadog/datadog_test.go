package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"dashetl/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestResolveEnvTag verifies ENV wins over DD_ENV, whitespace is ignored,
// and env:unknown is the default.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestStepStatusKeyRoundTrip(t *testing.T) {
	for _, tc := range []struct{ step, status string }{
		{"extract", "ok"},
		{"", "ok"},
		{"fetch", ""},
		{"", ""},
	} {
		k := stepStatusKey(tc.step, tc.status)
		step, status := splitStepStatusKey(k)
		if step != tc.step || status != tc.status {
			t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", step, status, tc.step, tc.status)
		}
	}

	step, status := splitStepStatusKey("no-sep")
	if step != "no-sep" || status != "unknown" {
		t.Fatalf("splitStepStatusKey()=(%q,%q), want=(no-sep,unknown)", step, status)
	}
}

func TestWithTags_DoesNotAliasBase(t *testing.T) {
	base := []string{"env:test", "job:dashetl"}
	got := withTags(base, "step:load")
	if !reflect.DeepEqual(got, []string{"env:test", "job:dashetl", "step:load"}) {
		t.Fatalf("withTags()=%v", got)
	}
	got[0] = "env:mutated"
	if base[0] != "env:test" {
		t.Fatalf("withTags output aliases base slice")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestAddPercentiles_DoesNotMutateInput(t *testing.T) {
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, "dashetl.step.duration_seconds", in, []string{"step:load"}, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}
	last := series[len(series)-1]
	if last.Metric != "dashetl.step.duration_seconds.samples" || *last.Points[0].Value != 5 {
		t.Fatalf("unexpected samples gauge: %+v", last)
	}
	if *series[4].Points[0].Value != 5 {
		t.Fatalf("max gauge=%v, want 5", *series[4].Points[0].Value)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"site:newhedge"},
		submitter: fs,
		newTicker: func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:dashetl") || !contains(b.baseTags, "site:newhedge") {
		t.Fatalf("unexpected baseTags: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_ThroughFacade records via the metrics helpers and checks the
// Datadog series names and tags that dashboards depend on.
func TestFlush_ThroughFacade(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	metrics.SetBackend(b)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	metrics.RecordStep("extract", "ok", 500*time.Millisecond)
	metrics.RecordFields(150, 18)
	metrics.RecordRows("ADDRESS_DISTRIBUTION", 10)
	metrics.RecordLoaded("MARKET_DATA", 3)
	metrics.RecordHTTP(200, nil, 100*time.Millisecond, 2048)

	if err := metrics.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.stepCounts) != 0 || len(b.counts) != 0 || len(b.samples) != 0 || len(b.stepDurations) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	byName := map[string][]string{}
	var names []string
	for _, s := range payload.Series {
		byName[s.Metric] = s.Tags
		names = append(names, s.Metric)
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("series not sorted: %v", names)
	}

	wantTags := map[string]string{
		"dashetl.step.total":                        "step:extract",
		"dashetl.step.duration_seconds.p50":         "status:ok",
		"dashetl.table_rows.total":                  "table:ADDRESS_DISTRIBUTION",
		"dashetl.loaded_rows.total":                 "table:MARKET_DATA",
		"dashetl.http.requests.total":               "status:200",
		"dashetl.http.request_duration_seconds.p99": "status:200",
		"dashetl.http.download_bytes.max":           "status:200",
	}
	for metric, tag := range wantTags {
		tags, ok := byName[metric]
		if !ok {
			t.Fatalf("payload missing metric %q; got=%v", metric, names)
		}
		if !contains(tags, tag) || !contains(tags, "job:job1") {
			t.Fatalf("metric %q tags=%v, want %q and job:job1", metric, tags, tag)
		}
	}
	if _, ok := byName["dashetl.http.errors.total"]; ok {
		t.Fatalf("unexpected error series for a 200 response")
	}

	var fieldTags []string
	for _, s := range payload.Series {
		if s.Metric == "dashetl.fields.total" {
			fieldTags = append(fieldTags, strings.Join(s.Tags, ","))
		}
	}
	if len(fieldTags) != 2 {
		t.Fatalf("fields series=%v, want found and missing", fieldTags)
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d, want 0", fs.count())
	}
}

func TestFlush_SubmitErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSubmitter{err: boom}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "load", "status": "error"})
	err := b.Flush()
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "datadog submit") {
		t.Fatalf("Flush() err=%v, want wrapped boom", err)
	}
	fs.err = nil
}

// TestLoopAndClose verifies the background loop flushes periodically and
// Close performs a final flush.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.TableRowsTotal, 1, metrics.Labels{"table": "T"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.TableRowsTotal, 1, metrics.Labels{"table": "T"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "extract", "status": "ok"})
				b.IncCounter(metrics.TableRowsTotal, 1, metrics.Labels{"table": "T"})
				b.ObserveHistogram(metrics.StepDuration, 0.01, metrics.Labels{"step": "extract", "status": "ok"})
				b.ObserveHistogram(metrics.HTTPRequestDuration, 0.02, metrics.Labels{"status": "200"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.TableRowsTotal, 0, metrics.Labels{"table": "T"})
	b.IncCounter(metrics.TableRowsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StepDuration, -1, metrics.Labels{"step": "load", "status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{})
	b.ObserveHistogram(metrics.HTTPRequestDuration, 0.1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	payload, ok := fs.last()
	if !ok {
		t.Fatalf("missing payload")
	}

	var sawCount, sawP50 bool
	for _, s := range payload.Series {
		switch s.Metric {
		case "dashetl.http.requests.total":
			sawCount = contains(s.Tags, "status:unknown")
		case "dashetl.http.request_duration_seconds.p50":
			sawP50 = contains(s.Tags, "status:unknown")
		case "dashetl.table_rows.total", "dashetl.step.duration_seconds.p50":
			t.Fatalf("unexpected series %q", s.Metric)
		}
	}
	if !sawCount || !sawP50 {
		t.Fatalf("expected status:unknown fallback series; got %+v", payload.Series)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,site:newhedge,  ,team:data ", want: []string{"env:prod", "site:newhedge", "team:data"}},
		{name: "single_tag", in: "site:newhedge", want: []string{"site:newhedge"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
