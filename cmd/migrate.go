package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/migrate"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

var migrateAll bool

func runMigrate(up bool, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("migrate requires a migration name")
	}
	m, ok := migrate.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown migration: %s", args[0])
	}
	path := "."
	if len(args) > 1 {
		path = args[1]
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if migrateAll {
		return migrate.RunAllRepos(m, absPath, up)
	}
	r, err := repo.Open(absPath)
	if err != nil {
		return err
	}
	defer r.Close()
	if up {
		return m.Up(r)
	}
	return m.Down(r)
}

func init() {
	root := &cobra.Command{Use: "migrate", Short: "Run a repository maintenance migration"}
	up := &cobra.Command{
		Use:   "up <name> [path]",
		Short: "Apply a migration",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(true, args)
		},
	}
	down := &cobra.Command{
		Use:   "down <name> [path]",
		Short: "Reverse a migration",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(false, args)
		},
	}
	root.PersistentFlags().BoolVar(&migrateAll, "all", false, "apply to every repository found one level under path")
	root.AddCommand(up, down)
	rootCmd.AddCommand(root)
}
