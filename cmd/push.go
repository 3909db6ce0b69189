package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/remote"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

func init() {
	rootCmd.AddCommand(NewRepoCommand("push [remote] [branch]", "Upload local commits to a remote", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		remoteName, branch := "", ""
		switch len(args) {
		case 0:
		case 1:
			branch = args[0]
		case 2:
			remoteName, branch = args[0], args[1]
		default:
			return fmt.Errorf("push takes at most a remote and a branch name")
		}
		if branch == "" {
			var err error
			branch, err = currentBranchName(r)
			if err != nil {
				return err
			}
		}
		ref, err := resolveRemoteRef(r, remoteName)
		if err != nil {
			return err
		}
		tokens, err := remoteTokens()
		if err != nil {
			return err
		}
		c2 := remote.NewClient(ref, tokens)
		if err := remote.Push(context.Background(), r, c2, branch, remote.PushOptions{}); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Printf("Pushed %s\n", branch)
		return nil
	}))
}
