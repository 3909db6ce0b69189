package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/merge"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

var (
	branchDelete      bool
	branchForceDelete bool
	branchAll         bool
	branchRemote      bool
)

func init() {
	c := NewRepoCommand("branch [name]", "List, create, or delete branches", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if branchDelete || branchForceDelete {
			if len(args) != 1 {
				return fmt.Errorf("branch -d/-D requires a branch name")
			}
			force := branchForceDelete
			return r.Refs.DeleteBranch(args[0], force, func(b string) (bool, error) {
				return merge.FullyMerged(r, b)
			})
		}
		if len(args) == 1 {
			headID, has, err := r.Refs.HeadCommit()
			if !has || err != nil {
				return err
			}
			return r.Refs.CreateBranch(args[0], headID)
		}

		branches, err := r.Refs.ListBranches()
		if err != nil {
			return err
		}
		current, isBranch, err := r.Refs.Head()
		if err != nil {
			return err
		}
		for _, b := range branches {
			if isBranch && b == current {
				color.Green("* %s", b)
			} else {
				fmt.Printf("  %s\n", b)
			}
		}
		return nil
	})
	c.Flags().BoolVarP(&branchDelete, "delete", "d", false, "delete a branch (must be fully merged)")
	c.Flags().BoolVarP(&branchForceDelete, "Delete", "D", false, "force-delete a branch")
	c.Flags().BoolVarP(&branchAll, "all", "a", false, "list local branches (no separate remote-tracking namespace)")
	c.Flags().BoolVarP(&branchRemote, "remote", "r", false, "list local branches (no separate remote-tracking namespace)")
	rootCmd.AddCommand(c)
}
