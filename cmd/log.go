package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

func init() {
	rootCmd.AddCommand(NewRepoCommand("log", "Show commit history for the current branch", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		id, has, err := r.Refs.HeadCommit()
		if err != nil {
			return err
		}
		if !has {
			fmt.Println("no commits yet")
			return nil
		}
		commits, err := r.Commits.Ancestors(id)
		if err != nil {
			return err
		}
		for _, c := range commits {
			color.New(color.FgYellow).Printf("commit %s\n", c.ID)
			fmt.Printf("Author: %s <%s>\n", c.Author, c.AuthorEmail)
			fmt.Printf("Date:   %s\n", time.Unix(c.TimestampUnix, 0).UTC().Format(time.RFC3339))
			fmt.Printf("\n    %s\n\n", c.Message)
		}
		return nil
	}))
}
