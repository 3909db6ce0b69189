package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/merge"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

func init() {
	rootCmd.AddCommand(NewRepoCommand("merge <branch>", "Merge another branch into the current one", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("merge requires exactly one branch name")
		}
		m := merge.New(r)
		sm := newStagingManager(r)
		defer sm.Close()
		result, err := m.Merge(args[0], sm)
		if err != nil {
			return err
		}
		switch {
		case result.UpToDate:
			fmt.Println("Already up to date")
		case result.FastForward:
			color.Green("Fast-forward merge complete")
		case len(result.Conflicts) > 0:
			fmt.Printf("Automatic merge failed; fix conflicts and commit the result:\n")
			for _, c := range result.Conflicts {
				color.Red("  both modified:   %s", c.Path)
			}
		default:
			// Clean three-way merge: commit it immediately with the
			// staged incoming changes and MERGE_HEAD as second parent.
			name, email, err := currentIdentity()
			if err != nil {
				return err
			}
			writer := commitwriter.New(r, sm)
			id, err := writer.Commit(fmt.Sprintf("Merge branch '%s'", args[0]), name, email, nil)
			if err != nil {
				return err
			}
			color.Green("Merge made commit %s", id.Prefix(8))
		}
		return nil
	}))
}
