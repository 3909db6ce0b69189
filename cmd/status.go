package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/merge"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

func headRootTree(r *repo.Repository) (ohash.Hash128, error) {
	id, has, err := r.Refs.HeadCommit()
	if err != nil || !has {
		return ohash.Hash128{}, err
	}
	c, ok, err := r.Commits.Get(id)
	if err != nil || !ok {
		return ohash.Hash128{}, err
	}
	return c.RootTreeHash, nil
}

func init() {
	rootCmd.AddCommand(NewRepoCommand("status", "Show staged, modified, and untracked paths", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		root, err := headRootTree(r)
		if err != nil {
			return err
		}
		m := merge.New(r)
		var conflictPaths []string
		if m.InProgress() {
			conflicts, err := m.Conflicts()
			if err != nil {
				return err
			}
			for _, c := range conflicts {
				conflictPaths = append(conflictPaths, c.Path)
			}
		}
		sm := newStagingManager(r)
		defer sm.Close()
		result, err := sm.Status(root, conflictPaths)
		if err != nil {
			return err
		}
		printStatus(result)
		return nil
	}))
}

func printStatus(s *staging.StatusResult) {
	if s.IsClean() && len(s.Conflicts) == 0 {
		fmt.Println("nothing to commit, working tree clean")
		return
	}
	if len(s.Conflicts) > 0 {
		fmt.Println("Unmerged paths:")
		for _, p := range s.Conflicts {
			color.Red("  both modified:   %s", p)
		}
		fmt.Println()
	}
	if len(s.Staged) > 0 {
		fmt.Println("Changes to be committed:")
		for _, e := range s.Staged {
			switch e.Status {
			case staging.StatusAdded:
				color.Green("  added:      %s", e.Path)
			case staging.StatusModified:
				color.Yellow("  modified:   %s", e.Path)
			case staging.StatusRemoved:
				color.Red("  removed:    %s", e.Path)
			}
		}
		fmt.Println()
	}
	if len(s.Removed) > 0 {
		fmt.Println("Removed but not staged:")
		for _, p := range s.Removed {
			color.Red("  deleted:    %s", p)
		}
		fmt.Println()
	}
	if len(s.Untracked) > 0 {
		fmt.Println("Untracked files:")
		for _, p := range s.Untracked {
			color.Cyan("  %s", p)
		}
		fmt.Println()
	}
}
