package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/remote"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

var pullAll bool

func init() {
	c := NewRepoCommand("pull [remote] [branch]", "Fetch and materialize a branch from a remote", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		remoteName, branch := "", ""
		switch len(args) {
		case 0:
		case 1:
			branch = args[0]
		case 2:
			remoteName, branch = args[0], args[1]
		default:
			return fmt.Errorf("pull takes at most a remote and a branch name")
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
		wasShallow := r.IsShallow()
		oldRoot, err := headRootTree(r)
		if err != nil {
			return err
		}
		c2 := remote.NewClient(ref, tokens)
		if err := remote.Pull(context.Background(), r, c2, branch, remote.PullOptions{All: pullAll}); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}

		newRoot, err := headRootTree(r)
		if err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		writer := commitwriter.New(r, sm)
		if err := writer.Materialize(oldRoot, newRoot); err != nil {
			return fmt.Errorf("failed to materialize pulled content: %w", err)
		}
		if wasShallow {
			if err := r.SetShallow(false); err != nil {
				return err
			}
		}
		fmt.Printf("Updated %s\n", branch)
		return nil
	})
	c.Flags().BoolVar(&pullAll, "all", false, "download content for every reachable commit, not just HEAD")
	rootCmd.AddCommand(c)
}
