// Command platectl inspects and merges sliced plates offline, without the
// API or the queue.
package main

import (
	"os"

	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/cuongbtq/platecompiler/shared/logger"
	"github.com/spf13/cobra"
)

type app struct {
	catalogPath string
	logLevel    string

	logger   *logger.Logger
	registry *printer.Registry
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "platectl",
		Short: "Inspect and merge sliced 3D printer plates",
		Long: `platectl reads sliced .gcode files and .3mf containers, merges their
plates into one program with plate-change routines between them, and
writes the result back into a container.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = logger.NewStderr(a.logLevel)
			registry, err := printer.Load(a.catalogPath)
			if err != nil {
				return err
			}
			a.registry = registry
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.catalogPath, "catalog", "", "Printer catalog YAML (default: built-in catalog)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInspectCmd(a))
	rootCmd.AddCommand(newCompileCmd(a))
	rootCmd.AddCommand(newPrintersCmd(a))

	return rootCmd
}
