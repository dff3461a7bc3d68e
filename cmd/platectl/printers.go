package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPrintersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "printers",
		Short: "List printer profiles and plate-change routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defaultModel := a.registry.DefaultPrinter().Model

			fmt.Fprintln(tw, "MODEL\tNAME\tROUTINE\tMULTI-MATERIAL\tDEFAULT")
			for _, p := range a.registry.Printers() {
				routine := "-"
				if r, ok := a.registry.Routine(p.Model); ok {
					routine = r.Name
				}
				isDefault := ""
				if p.Model == defaultModel {
					isDefault = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.Model, p.Name, routine, p.MultiMaterial, isDefault)
			}

			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "ROUTINE\tMODEL\tLINES\tDESCRIPTION")
			for _, r := range a.registry.Routines() {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Name, r.Model, r.Program.Len(), r.Description)
			}
			return tw.Flush()
		},
	}
}
