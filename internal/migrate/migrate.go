// Package migrate is a thin runner for one-off repository maintenance
// tasks, kept as a shell over the core engine rather than baked into it.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

// Migration is one named, reversible repository maintenance step.
type Migration interface {
	Name() string
	Up(r *repo.Repository) error
	Down(r *repo.Repository) error
}

var registry = map[string]Migration{}

func register(m Migration) { registry[m.Name()] = m }

// Lookup finds a registered migration by name.
func Lookup(name string) (Migration, bool) {
	m, ok := registry[name]
	return m, ok
}

func init() {
	register(reindexTabularMigration{})
}

// reindexTabularMigration drops every cached data-frame sqlite session so
// the next query rebuilds it from the current working-tree files. It is
// a rebuild-derived-cache migration with no effect on committed history.
type reindexTabularMigration struct{}

func (reindexTabularMigration) Name() string { return "reindex_tabular" }

func (reindexTabularMigration) Up(r *repo.Repository) error {
	return os.RemoveAll(filepath.Join(r.OxenDir, "cache", "df"))
}

func (reindexTabularMigration) Down(r *repo.Repository) error {
	// Nothing to undo: the cache directory is rebuilt lazily by
	// (*tabular.Engine).Index on first use.
	return nil
}

// RunAllRepos applies a migration to every repository found one level
// under root.
func RunAllRepos(m Migration, root string, up bool) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		repoPath := filepath.Join(root, e.Name())
		if !repo.FileExists(filepath.Join(repoPath, repo.DirName)) {
			continue
		}
		r, err := repo.Open(repoPath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", repoPath, err)
		}
		var applyErr error
		if up {
			applyErr = m.Up(r)
		} else {
			applyErr = m.Down(r)
		}
		r.Close()
		if applyErr != nil {
			return fmt.Errorf("migration %s failed on %s: %w", m.Name(), repoPath, applyErr)
		}
	}
	return nil
}
