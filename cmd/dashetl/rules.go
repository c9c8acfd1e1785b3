package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dashetl/internal/rules"
	"dashetl/internal/warehouse"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with rule profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Check a rule profile (default: rules.path or the embedded profile)",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Rules.Path
			if len(args) == 1 {
				path = args[0]
			}
			p, err := rules.Load(path)
			if err != nil {
				return err
			}
			name := path
			if name == "" {
				name = "embedded profile"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d fields, %d tables, %d groups, %d warehouse tables)\n",
				name, len(p.Fields()), len(p.Tables()), len(p.Groups()), len(warehouse.Tables(p)))
			return nil
		},
	})
	return cmd
}
