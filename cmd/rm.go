package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

var (
	rmRecursive bool
	rmStaged    bool
)

func init() {
	c := NewRepoCommand("rm <paths...>", "Remove files from the working tree and stage the removal", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("rm requires at least one path")
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
			if err := sm.Rm(rel, rmRecursive, rmStaged, root); err != nil {
				return fmt.Errorf("rm %s: %w", p, err)
			}
		}
		return nil
	})
	c.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "remove directories recursively")
	c.Flags().BoolVar(&rmStaged, "staged", false, "only stage the removal; leave the working-tree file in place")
	rootCmd.AddCommand(c)
}
