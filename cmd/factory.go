package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

// RepoHandlerFunc is the signature for commands that operate on an
// already-open repository.
type RepoHandlerFunc func(r *repo.Repository, cmd *cobra.Command, args []string) error

// NewRepoCommand builds a cobra.Command that finds and opens the
// enclosing repository before invoking run, keeping that
// find-then-open boilerplate out of every individual command.
func NewRepoCommand(use, short string, run RepoHandlerFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open("")
			if err != nil {
				return fmt.Errorf("failed to find repository: %w", err)
			}
			defer r.Close()
			return run(r, cmd, args)
		},
	}
}

// newStagingManager is a small convenience wrapper kept separate so
// commands don't each re-spell staging.New(r).
func newStagingManager(r *repo.Repository) *staging.Manager {
	return staging.New(r)
}

// currentIdentity resolves the author name/email used for commits, from
// the per-user config file.
func currentIdentity() (name, email string, err error) {
	uc, err := repo.LoadUserConfig()
	if err != nil {
		return "", "", err
	}
	return uc.Name, uc.Email, nil
}

// repoRelPath resolves a path given on the command line (relative to the
// current working directory, as every other VCS CLI accepts) to a
// forward-slash path relative to the repository root.
func repoRelPath(r *repo.Repository, p string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, p)
	}
	rel, err := filepath.Rel(r.Root, abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s relative to repository root: %w", p, err)
	}
	return objects.NormalizePath(rel), nil
}
