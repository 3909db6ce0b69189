package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

var restoreStaged bool

func init() {
	c := NewRepoCommand("restore <paths...>", "Restore working-tree or staged files", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("restore requires at least one path")
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
			if err := sm.Restore(rel, restoreStaged, root); err != nil {
				return fmt.Errorf("restore %s: %w", p, err)
			}
		}
		return nil
	})
	c.Flags().BoolVar(&restoreStaged, "staged", false, "only drop the staged entry; don't touch the working tree")
	rootCmd.AddCommand(c)
}
