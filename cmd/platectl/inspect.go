package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/cuongbtq/platecompiler/internal/compiler"
	"github.com/cuongbtq/platecompiler/internal/ingest"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errNoPlates = errors.New("no plates found")

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "List the plates found in sliced files",
		Example: `  platectl inspect Benchy.gcode.3mf
  platectl inspect plate_1.gcode plate_2.gcode`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.load(cmd, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tPLATE\tPRINTER\tTIME\tFILAMENTS\tWEIGHT\tSOURCE")
			for _, r := range results {
				for _, j := range r.Jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1fg\t%s\n",
						r.Name, j.Name, j.Printer.Model,
						compiler.FormatDuration(j.Duration),
						kinds(j), j.TotalWeight(), source(j),
					)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			diags := ingest.Diagnostics(results)
			if len(diags) > 0 {
				fmt.Fprintf(out, "\n%s", diags.Log())
			}

			if len(ingest.Jobs(results)) == 0 {
				return errNoPlates
			}
			return nil
		},
	}
}

// load reads the files and ingests them with the active catalog
func (a *app) load(cmd *cobra.Command, paths []string) ([]ingest.Result, error) {
	srcs, err := ingest.ReadFiles(paths)
	if err != nil {
		return nil, err
	}
	return ingest.NewLoader(a.registry).LoadFiles(cmd.Context(), srcs)
}

func kinds(j *plate.Job) string {
	names := make([]string, 0, len(j.Filaments))
	for _, k := range j.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ",")
}

func source(j *plate.Job) string {
	if !j.HasSource() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", j.Source.Entry, humanize.Bytes(uint64(len(j.Source.Bytes))))
}
