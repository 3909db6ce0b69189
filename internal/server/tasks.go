package server

import (
	"fmt"

	"github.com/NahomAnteneh/oxen/internal/metacache"
	"github.com/NahomAnteneh/oxen/internal/ohash"
)

// handleTask dispatches one finalize-queue task: warm the metadata cache
// for the newly uploaded commit, then release the branch lock. Handlers
// are idempotent — Warm is safe to run twice for the same commit, and
// unlocking an already-unlocked branch is a no-op.
func (s *Server) handleTask(t Task) error {
	repository, err := s.openRepo(t.RepoNamespace, t.RepoName)
	if err != nil {
		return fmt.Errorf("failed to open repository for task: %w", err)
	}

	switch t.Kind {
	case TaskWarmCache, TaskTreeFromEntries:
		id, err := ohash.ParseHash128(t.CommitID)
		if err != nil {
			return fmt.Errorf("invalid commit id in task: %w", err)
		}
		cache := metacache.New(repository)
		if err := cache.Warm(id); err != nil {
			return fmt.Errorf("failed to warm metadata cache: %w", err)
		}
		if t.Branch != "" {
			return s.unlockAfterFinalize(t.RepoNamespace, t.RepoName, t.Branch)
		}
		return nil
	case TaskUnlock:
		return s.unlockAfterFinalize(t.RepoNamespace, t.RepoName, t.Branch)
	default:
		return fmt.Errorf("unknown task kind: %s", t.Kind)
	}
}

func (s *Server) unlockAfterFinalize(ns, name, branch string) error {
	key := fmt.Sprintf("%s/%s/%s", ns, name, branch)
	s.locksMu.Lock()
	delete(s.locks, key)
	s.locksMu.Unlock()
	return nil
}
