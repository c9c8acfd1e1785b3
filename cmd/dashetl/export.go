package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dashetl/internal/warehouse"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		tables []string
		dir    string
		xlsx   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write warehouse tables to CSV (newest rows first) and optionally one XLSX workbook",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = filepath.Join(a.cfg.Output.Dir, "export")
			}
			if !cmd.Flags().Changed("xlsx") {
				xlsx = a.cfg.Output.XLSX
			}
			if len(tables) == 0 {
				p, err := a.profile()
				if err != nil {
					return err
				}
				tables = warehouse.Tables(p)
			}

			return a.withMetrics(ctx, func() error {
				repo, err := a.repo(ctx)
				if err != nil {
					return err
				}
				defer repo.Close()

				ex := warehouse.NewExporter(repo, warehouse.WithLogger(a.log), warehouse.WithXLSX(xlsx))
				paths, err := ex.Export(ctx, tables, dir)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&tables, "table", "t", nil, "table to export (repeatable; default every table of the rule profile)")
	f.StringVarP(&dir, "dir", "d", "", "export directory (default <output.dir>/export)")
	f.StringVar(&xlsx, "xlsx", "", "workbook file name inside the export directory (default output.xlsx)")
	return cmd
}
