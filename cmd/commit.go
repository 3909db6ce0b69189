package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/tabular"
)

var commitMessage string

func init() {
	c := NewRepoCommand("commit", "Record staged changes as a new commit", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return fmt.Errorf("commit requires -m <message>")
		}
		name, email, err := currentIdentity()
		if err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		te := tabular.New(r)
		defer te.Close()
		writer := commitwriter.New(r, sm)
		id, err := writer.Commit(commitMessage, name, email, te.SchemaOf)
		if err != nil {
			return err
		}
		branch, _, err := r.Refs.Head()
		if err == nil {
			fmt.Printf("[%s %s] %s\n", branch, id.Prefix(8), commitMessage)
		} else {
			fmt.Printf("[%s] %s\n", id.Prefix(8), commitMessage)
		}
		return nil
	})
	c.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	rootCmd.AddCommand(c)
}
