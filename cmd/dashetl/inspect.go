package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dashetl/internal/extract"
	"dashetl/internal/locate"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		sf          sourceFlags
		missingOnly bool
		match       string
		tables      bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show what every field rule finds on a page without writing anything",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.profile()
			if err != nil {
				return err
			}
			fetchFn, err := a.fetchFunc(sf)
			if err != nil {
				return err
			}
			html, err := fetchFn(ctx)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			doc, err := locate.ParseString(html)
			if err != nil {
				return fmt.Errorf("parse html: %w", err)
			}
			snap := extract.New(p, extract.WithLogger(a.log)).Extract(doc, time.Now())

			out := cmd.OutOrStdout()
			if tables {
				t := table.NewWriter()
				t.SetOutputMirror(out)
				t.AppendHeader(table.Row{"Table", "Columns", "Rows"})
				for _, tb := range snap.Tables {
					t.AppendRow(table.Row{tb.Name, strings.Join(tb.Columns, ", "), len(tb.Rows)})
				}
				t.SetStyle(table.StyleRounded)
				t.Render()
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.AppendHeader(table.Row{"Field", "Format", "Raw", "Value"})
			for _, name := range snap.Fields.Names() {
				if match != "" && !strings.Contains(strings.ToUpper(name), strings.ToUpper(match)) {
					continue
				}
				rf := snap.Fields[name]
				if missingOnly && rf.Found && !rf.Value.IsAbsent() {
					continue
				}
				raw, val := "-", "-"
				if rf.Found {
					raw = rf.Raw
					if !rf.Value.IsAbsent() {
						val = rf.Value.String()
					}
				}
				t.AppendRow(table.Row{name, string(rf.Format), raw, val})
			}
			found, missing := snap.Fields.Counts()
			t.AppendFooter(table.Row{"", "", "found", fmt.Sprintf("%d / %d", found, found+missing)})
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&sf.file, "file", "", "read a saved HTML page instead of fetching")
	f.BoolVar(&sf.stdin, "stdin", false, "read the HTML page from stdin")
	f.StringVar(&sf.url, "url", "", "page URL (default source.url)")
	f.BoolVar(&sf.direct, "direct", false, "fetch the URL with a plain GET instead of the render API")
	f.BoolVar(&missingOnly, "missing", false, "only list fields that were not found or did not normalize")
	f.StringVar(&match, "match", "", "only list fields whose name contains this text")
	f.BoolVar(&tables, "tables", false, "list table rules and their row counts instead of fields")
	return cmd
}
