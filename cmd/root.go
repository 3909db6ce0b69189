// Package cmd implements the oxen CLI surface, a thin shell over the
// internal/* engine packages.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/vlog"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "oxen",
	Short: "Oxen tracks large mixed datasets of binary files and data frames",
	Long: `Oxen is a version-control system for datasets: binary files are
content-addressed and deduplicated; tabular files (CSV/TSV/JSON-lines/
Parquet) are additionally indexed as queryable data frames.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		vlog.Init(verbose)
		return nil
	},
}

func Execute() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
