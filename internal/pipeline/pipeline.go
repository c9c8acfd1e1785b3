// Package pipeline runs one scrape: fetch the page, extract every field and
// table, assemble the datasets and append them to the output directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dashetl/internal/csvexport"
	"dashetl/internal/extract"
	"dashetl/internal/locate"
	"dashetl/internal/metrics"
	"dashetl/internal/records"
	"dashetl/internal/rules"
)

// FetchFunc returns the HTML of the page to scrape.
type FetchFunc func(ctx context.Context) (string, error)

// Result summarizes a completed run.
type Result struct {
	Timestamp time.Time
	Found     int
	Missing   int
	// Files are the dataset CSVs that received a row, in dataset order.
	Files   []string
	RawJSON string
}

// Scraper ties a fetcher to a rule profile and an output directory.
type Scraper struct {
	fetch     FetchFunc
	profile   *rules.Profile
	extractor *extract.Extractor
	outDir    string
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets the logger; it is also handed to the extractor.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scraper) { s.log = l }
}

// WithClock overrides the capture instant source.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// New returns a Scraper. fetch and p are required.
func New(fetch FetchFunc, p *rules.Profile, outDir string, opts ...Option) (*Scraper, error) {
	if fetch == nil {
		return nil, errors.New("pipeline: nil fetch func")
	}
	if p == nil {
		return nil, errors.New("pipeline: nil profile")
	}
	if strings.TrimSpace(outDir) == "" {
		return nil, errors.New("pipeline: empty output dir")
	}
	s := &Scraper{
		fetch:   fetch,
		profile: p,
		outDir:  outDir,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.extractor = extract.New(p, extract.WithLogger(s.log))
	return s, nil
}

// step times fn and records it under name.
func step[T any](name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordStep(name, status, time.Since(start))
	return v, err
}

// Run performs one scrape. A field or table that cannot be located never
// fails the run; only fetch, parse and write errors do.
func (s *Scraper) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	ts := s.now().UTC()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordStep("scrape", status, time.Since(start))
	}()

	html, err := step("fetch", func() (string, error) { return s.fetch(ctx) })
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := step("parse", func() (*locate.Document, error) { return locate.ParseString(html) })
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	snap, _ := step("extract", func() (extract.Snapshot, error) { return s.extractor.Extract(doc, ts), nil })
	found, missing := snap.Fields.Counts()
	metrics.RecordFields(found, missing)
	for _, t := range snap.Tables {
		metrics.RecordRows(t.Name, len(t.Rows))
		if len(t.Rows) == 0 {
			s.log.Debug().Str("table", t.Name).Msg("table not found")
		}
	}
	s.log.Info().Int("found", found).Int("missing", missing).Int("tables", len(snap.Tables)).Msg("extracted fields")

	datasets, _ := step("assemble", func() ([]records.Dataset, error) {
		return records.Assemble(s.profile.Groups(), snap), nil
	})

	res = &Result{Timestamp: ts, Found: found, Missing: missing}
	_, err = step("write", func() (struct{}, error) {
		for _, ds := range datasets {
			if len(ds.Rows) == 0 {
				continue
			}
			path, err := csvexport.AppendDataset(s.outDir, ds)
			if err != nil {
				return struct{}{}, fmt.Errorf("dataset %s: %w", ds.Name, err)
			}
			res.Files = append(res.Files, path)
		}
		raw, err := csvexport.WriteRawJSON(s.outDir, snap)
		if err != nil {
			return struct{}{}, err
		}
		res.RawJSON = raw
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	s.log.Info().
		Str("timestamp", records.FormatTimestamp(ts)).
		Int("files", len(res.Files)).
		Dur("elapsed", time.Since(start)).
		Msg("scrape complete")
	return res, nil
}
