package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/remote"
)

var (
	cloneShallow bool
	cloneAll     bool
	cloneBranch  string
)

func init() {
	c := &cobra.Command{
		Use:   "clone <url> [directory]",
		Short: "Clone a remote repository",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := remote.ParseRemoteRef(args[0])
			if err != nil {
				return err
			}
			dir := args[0]
			if len(args) == 2 {
				dir = args[1]
			} else {
				dir = strings.TrimSuffix(ref.Name, ".oxen")
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", dir, err)
			}
			if err := os.MkdirAll(absDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", absDir, err)
			}

			tokens, err := remoteTokens()
			if err != nil {
				return err
			}
			branch := cloneBranch
			if branch == "" {
				branch = "main"
			}
			opts := remote.PullOptions{All: cloneAll, Shallow: cloneShallow}
			r, err := remote.Clone(context.Background(), absDir, ref, tokens, branch, opts)
			if err != nil {
				return err
			}
			defer r.Close()
			fmt.Printf("Cloned into %s\n", absDir)
			return nil
		},
	}
	c.Flags().BoolVar(&cloneShallow, "shallow", false, "skip content download; only the commit DAG is cloned")
	c.Flags().BoolVar(&cloneAll, "all", false, "download content for every reachable commit, not just HEAD")
	c.Flags().StringVarP(&cloneBranch, "branch", "b", "", "branch to clone (default main)")
	rootCmd.AddCommand(c)
}
