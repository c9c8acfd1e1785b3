package main

import (
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dashetl/internal/rules"
	"dashetl/internal/warehouse"
)

func newLoadCmd(a *app) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every dataset CSV into the warehouse; rows already present are skipped",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.cfg.Output.Dir
			}
			p, err := a.profile()
			if err != nil {
				return err
			}
			return a.withMetrics(cmd.Context(), func() error {
				return a.loadDir(cmd, p, dir)
			})
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory holding dataset CSVs (default output.dir)")
	return cmd
}

func (a *app) loadDir(cmd *cobra.Command, p *rules.Profile, dir string) error {
	ctx := cmd.Context()
	repo, err := a.repo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	results, err := warehouse.NewLoader(repo, p, warehouse.WithLogger(a.log)).Load(ctx, dir)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"File", "Table", "Rows", "Inserted"})
	var rows int
	var inserted int64
	for _, r := range results {
		t.AppendRow(table.Row{filepath.Base(r.File), r.Table, r.Rows, r.Inserted})
		rows += r.Rows
		inserted += r.Inserted
	}
	t.AppendFooter(table.Row{"", "Total", rows, inserted})
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}
