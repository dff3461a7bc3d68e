package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/compiler"
	"github.com/cuongbtq/platecompiler/internal/ingest"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/repack"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type compileOptions struct {
	printerModel string
	output       string
	routine      string
	mode         string
	skipMissing  bool
}

func newCompileCmd(a *app) *cobra.Command {
	opts := &compileOptions{}

	cmd := &cobra.Command{
		Use:   "compile FILE...",
		Short: "Merge plates into one container",
		Long: `Merges every plate of the given files, in order, into one program.
Each plate except the last gets its plate-change routine spliced in
before the slicer's finish marker.`,
		Example: `  platectl compile -p "A1 mini" -o merged.gcode.3mf a.gcode.3mf b.gcode.3mf
  platectl compile -o merged.3mf --mode splice --routine "A1 mini plate swap" set.3mf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.compile(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.printerModel, "printer", "p", "", "Target printer model (default: catalog default)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output container path")
	cmd.Flags().StringVar(&opts.routine, "routine", "", "Plate-change routine used between every plate")
	cmd.Flags().StringVar(&opts.mode, "mode", string(repack.ModeBuild), "Container mode (build, splice)")
	cmd.Flags().BoolVar(&opts.skipMissing, "skip-missing", false, "Drop plates that have no plate-change routine instead of failing")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func (a *app) compile(cmd *cobra.Command, opts *compileOptions, paths []string) error {
	target := a.registry.DefaultPrinter()
	if opts.printerModel != "" {
		p, ok := a.registry.Lookup(opts.printerModel)
		if !ok {
			return fmt.Errorf("unknown printer model %q", opts.printerModel)
		}
		target = p
	}

	var override *plate.PlateChangeRoutine
	if opts.routine != "" {
		r, err := a.registry.RoutineByName(opts.routine)
		if err != nil {
			return err
		}
		override = r
	}

	mode, err := repack.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	results, err := a.load(cmd, paths)
	if err != nil {
		return err
	}
	a.logger.Diagnostics("ingest", ingest.Diagnostics(results))

	jobs := ingest.Jobs(results)
	if len(jobs) == 0 {
		return errNoPlates
	}

	policy := compiler.AbortOnMissingRoutine
	if opts.skipMissing {
		policy = compiler.SkipOnMissingRoutine
	}

	res, err := compiler.New(compiler.Options{OnMissingRoutine: policy}).CompileContext(cmd.Context(), jobs, target, override)
	a.logger.Diagnostics("compile", res.Diagnostics)
	if err != nil {
		return err
	}

	kept := res.Kept(jobs)
	data, err := repack.Pack(mode, repack.BuildInput{
		Program:   res.Text,
		Title:     repack.Title(kept),
		Printer:   target,
		Jobs:      kept,
		Duration:  res.Duration,
		Thumbnail: kept[0].Thumbnail,
		Created:   time.Now(),
	})
	if err != nil {
		return err
	}

	output, err := filepath.Abs(opts.output)
	if err != nil {
		return err
	}
	if err := repack.Export(cmd.Context(), repack.FileSink{}, output, data); err != nil {
		return err
	}

	a.logger.Info("Container written",
		slog.String("path", output),
		slog.String("mode", string(mode)),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d plates, %s, %s\n",
		opts.output, res.Compiled, compiler.FormatDuration(res.Duration), humanize.Bytes(uint64(len(data))))
	if len(res.Skipped) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "skipped: %s\n", strings.Join(res.SkippedNames(jobs), ", "))
	}
	return nil
}
