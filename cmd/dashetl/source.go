package main

import (
	"context"
	"strings"

	"dashetl/internal/fetch"
	"dashetl/internal/pipeline"
)

// sourceFlags select where page HTML comes from. A file or stdin wins over a
// URL; URLs go through the render API unless --direct is set or no API key is
// configured. fresh skips the render cache on reads so every call observes
// the live page.
type sourceFlags struct {
	file   string
	url    string
	stdin  bool
	direct bool
	fresh  bool
}

func (a *app) fetchFunc(sf sourceFlags) (pipeline.FetchFunc, error) {
	src := a.cfg.Source
	loader := fetch.NewLoader(a.httpClient, src.Timeout)

	switch {
	case sf.file != "":
		return func(ctx context.Context) (string, error) {
			return loader.Load(ctx, fetch.Input{Path: sf.file})
		}, nil
	case sf.stdin:
		return func(ctx context.Context) (string, error) {
			return loader.Load(ctx, fetch.Input{Stdin: a.stdin})
		}, nil
	}

	url := sf.url
	if url == "" {
		url = src.URL
	}

	if sf.direct || strings.TrimSpace(src.APIKey) == "" {
		if !sf.direct {
			a.log.Warn().Str("url", url).Msg("no render api key configured; fetching directly")
		}
		return func(ctx context.Context) (string, error) {
			return loader.Load(ctx, fetch.Input{URL: url})
		}, nil
	}

	opts := fetch.RenderOptions{
		Endpoint: src.RenderEndpoint,
		APIKey:   src.APIKey,
		Timeout:  src.Timeout,
		Limiter:  fetch.NewLimiter(src.Rate, src.Burst),
	}
	if src.CacheTTL > 0 {
		opts.Cache = fetch.NewCache(src.CacheTTL)
	}
	if src.Robots {
		opts.Robots = fetch.NewRobotsChecker(a.httpClient, fetch.DefaultUserAgent)
	}
	rc, err := fetch.NewRenderClient(opts)
	if err != nil {
		return nil, err
	}
	if sf.fresh {
		return func(ctx context.Context) (string, error) {
			return rc.Refresh(ctx, url)
		}, nil
	}
	return func(ctx context.Context) (string, error) {
		return rc.Render(ctx, url)
	}, nil
}
