package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"dashetl/internal/config"
	"dashetl/internal/metrics"
	"dashetl/internal/metrics/datadog"
)

type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the configured backend. The returned cleanup is never
// nil; it stops the backend and submits whatever is still buffered.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, log zerolog.Logger) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none", "noop":
		return func() {}, nil

	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       cfg.Tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return func() {}, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		log.Debug().Str("backend", "datadog").Str("job", cfg.Job).Strs("tags", cfg.Tags).Msg("metrics enabled")
		return func() {
			setMetricsBackend(nil)
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics: datadog close error")
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
	}
}

// withMetrics runs fn between metrics setup and teardown.
func (a *app) withMetrics(ctx context.Context, fn func() error) error {
	cleanup, err := initMetrics(ctx, a.cfg.Metrics, a.log)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer cleanup()
	return fn()
}
