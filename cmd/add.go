package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

func init() {
	rootCmd.AddCommand(NewRepoCommand("add <paths...>", "Stage file or directory contents", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("add requires at least one path")
		}
		root, err := headRootTree(r)
		if err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		for _, p := range args {
			rel, err := repoRelPath(r, p)
			if err != nil {
				return err
			}
			if err := sm.Add(rel, root); err != nil {
				return fmt.Errorf("add %s: %w", p, err)
			}
		}
		return nil
	}))
}
