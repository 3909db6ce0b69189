package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/merge"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

var (
	checkoutNewBranch bool
	checkoutTheirs    bool
	checkoutOurs      bool
	checkoutCombine   bool
)

func init() {
	c := NewRepoCommand("checkout <name-or-path>", "Switch branches/commits, or resolve a merge conflict", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("checkout requires exactly one argument")
		}
		m := merge.New(r)
		switch {
		case checkoutOurs:
			rel, err := repoRelPath(r, args[0])
			if err != nil {
				return err
			}
			return m.ResolveOurs(rel)
		case checkoutTheirs:
			rel, err := repoRelPath(r, args[0])
			if err != nil {
				return err
			}
			return m.ResolveTheirs(rel)
		case checkoutCombine:
			rel, err := repoRelPath(r, args[0])
			if err != nil {
				return err
			}
			return m.Combine(rel)
		default:
			sm := newStagingManager(r)
			defer sm.Close()
			writer := commitwriter.New(r, sm)
			return writer.Checkout(args[0], checkoutNewBranch)
		}
	})
	c.Flags().BoolVarP(&checkoutNewBranch, "branch", "b", false, "create the branch if it does not exist")
	c.Flags().BoolVar(&checkoutTheirs, "theirs", false, "resolve a conflict with the merge target's version")
	c.Flags().BoolVar(&checkoutOurs, "ours", false, "resolve a conflict with HEAD's version")
	c.Flags().BoolVar(&checkoutCombine, "combine", false, "resolve a tabular conflict by vertical-stacking and deduping rows")
	rootCmd.AddCommand(c)
}
