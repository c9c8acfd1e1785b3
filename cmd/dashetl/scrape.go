package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dashetl/internal/pipeline"
)

func newScrapeCmd(a *app) *cobra.Command {
	var (
		sf    sourceFlags
		out   string
		load  bool
		every time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the dashboard once and append a row to every dataset CSV",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = a.cfg.Output.Dir
			}
			p, err := a.profile()
			if err != nil {
				return err
			}
			// Each scrape is a new timestamped observation, never a cached page.
			sf.fresh = true
			fetchFn, err := a.fetchFunc(sf)
			if err != nil {
				return err
			}
			s, err := pipeline.New(fetchFn, p, out, pipeline.WithLogger(a.log))
			if err != nil {
				return err
			}

			return a.withMetrics(ctx, func() error {
				once := func() error {
					res, err := s.Run(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "scraped %d fields (%d missing) into %d files\n",
						res.Found, res.Missing, len(res.Files))
					if !load {
						return nil
					}
					return a.loadDir(cmd, p, out)
				}

				if every <= 0 {
					return once()
				}
				t := time.NewTicker(every)
				defer t.Stop()
				for {
					if err := once(); err != nil {
						a.log.Error().Err(err).Msg("scrape failed")
					}
					select {
					case <-ctx.Done():
						return nil
					case <-t.C:
					}
				}
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&sf.file, "file", "", "read a saved HTML page instead of fetching")
	f.BoolVar(&sf.stdin, "stdin", false, "read the HTML page from stdin")
	f.StringVar(&sf.url, "url", "", "page URL (default source.url)")
	f.BoolVar(&sf.direct, "direct", false, "fetch the URL with a plain GET instead of the render API")
	f.StringVarP(&out, "out", "o", "", "output directory (default output.dir)")
	f.BoolVar(&load, "load", false, "load the output directory into the warehouse afterwards")
	f.DurationVar(&every, "every", 0, "repeat the scrape at this interval until interrupted")
	return cmd
}

