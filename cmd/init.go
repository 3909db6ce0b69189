package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a new, empty oxen repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", dir, err)
		}
		if err := os.MkdirAll(absDir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", absDir, err)
		}
		r, err := repo.Init(absDir)
		if err != nil {
			return err
		}
		defer r.Close()
		fmt.Printf("Initialized empty oxen repository in %s\n", r.OxenDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
