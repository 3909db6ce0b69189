package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/remote"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

func init() {
	rootCmd.AddCommand(NewRepoCommand("fetch [branch]", "Download the commit DAG for a branch without touching the working tree", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return fmt.Errorf("fetch takes at most one branch name")
		}
		branch := ""
		if len(args) == 1 {
			branch = args[0]
		} else {
			var err error
			branch, err = currentBranchName(r)
			if err != nil {
				return err
			}
		}
		ref, err := resolveRemoteRef(r, "")
		if err != nil {
			return err
		}
		tokens, err := remoteTokens()
		if err != nil {
			return err
		}
		c2 := remote.NewClient(ref, tokens)
		fetched, err := remote.Fetch(context.Background(), r, c2, branch)
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}
		fmt.Printf("Fetched %d new commit(s) for %s\n", len(fetched), branch)
		return nil
	}))
}
