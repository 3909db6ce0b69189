// Package merge implements the three-way merger: classifying every path
// between HEAD (ours), TARGET (theirs), and their lowest common
// ancestor, applying one-sided changes automatically, and recording
// conflicts for the rest.
package merge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/kvstore"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

// ErrMergeInProgress is returned when a merge is started while another
// is still unresolved, distinct from a MergeConflict result.
type ErrMergeInProgress struct{}

func (e *ErrMergeInProgress) Error() string { return "a merge is already in progress" }

// ErrMergeRequiresManualResolution is returned by Combine for rows that
// cannot be deduplicated automatically.
type ErrMergeRequiresManualResolution struct{ Path string }

func (e *ErrMergeRequiresManualResolution) Error() string {
	return fmt.Sprintf("merge requires manual resolution: %s", e.Path)
}

// Conflict records, for one conflicting path, the File-node hash and
// source commit of the merge base, of HEAD and of the merge target.
type Conflict struct {
	Path        string `json:"path"`
	BaseHash    string `json:"base_hash"`
	BaseCommit  string `json:"base_commit"`
	HeadHash    string `json:"head_hash"`
	HeadCommit  string `json:"head_commit"`
	MergeHash   string `json:"merge_hash"`
	MergeCommit string `json:"merge_commit"`
}

// Merger performs three-way merges for one repository.
type Merger struct {
	r *repo.Repository
}

// New creates a Merger for r.
func New(r *repo.Repository) *Merger {
	return &Merger{r: r}
}

func (m *Merger) mergeHeadPath() string { return filepath.Join(m.r.OxenDir, "merge", "MERGE_HEAD") }
func (m *Merger) origHeadPath() string  { return filepath.Join(m.r.OxenDir, "merge", "ORIG_HEAD") }
func (m *Merger) conflictsKVPath() string {
	return filepath.Join(m.r.OxenDir, "merge", "conflicts", "db")
}

func (m *Merger) conflictsKV() (*kvstore.Store, error) {
	return kvstore.Open(m.conflictsKVPath())
}

// InProgress reports whether a merge is already underway.
func (m *Merger) InProgress() bool {
	_, err := os.Stat(m.mergeHeadPath())
	return err == nil
}

// Result summarizes a merge attempt.
type Result struct {
	FastForward bool
	UpToDate    bool
	Conflicts   []Conflict
}

// Merge merges targetBranch into the current branch. On a fast-forward
// it advances the branch ref directly and returns FastForward=true.
// Otherwise it applies one-sided changes to the working tree, staging
// the incoming side through sm, records conflicts, and writes
// MERGE_HEAD/ORIG_HEAD so the next commit produces a two-parent merge
// commit. sm must be the caller's staging manager: the staged-entries
// KVs are single-writer per process.
func (m *Merger) Merge(targetBranch string, sm *staging.Manager) (*Result, error) {
	if m.InProgress() {
		return nil, &ErrMergeInProgress{}
	}

	headID, hasHead, err := m.r.Refs.HeadCommit()
	if err != nil {
		return nil, err
	}
	if !hasHead {
		return nil, fmt.Errorf("cannot merge: no commits on the current branch yet")
	}
	targetID, ok, err := m.r.Refs.GetBranch(targetBranch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("branch not found: %s", targetBranch)
	}

	if headID == targetID {
		return &Result{UpToDate: true}, nil
	}
	if merged, err := m.r.Commits.IsAncestor(targetID, headID); err != nil {
		return nil, err
	} else if merged {
		return &Result{UpToDate: true}, nil
	}

	isAncestor, err := m.r.Commits.IsAncestor(headID, targetID)
	if err != nil {
		return nil, err
	}
	if isAncestor {
		branch, isBranch, err := m.r.Refs.Head()
		if err != nil {
			return nil, err
		}
		if !isBranch {
			return nil, fmt.Errorf("must be on a branch (not detached HEAD) to merge")
		}
		if err := m.fastForwardCheckout(headID, targetID); err != nil {
			return nil, err
		}
		if err := m.r.Refs.SetBranchHead(branch, targetID); err != nil {
			return nil, err
		}
		return &Result{FastForward: true}, nil
	}

	lca, found, err := m.r.Commits.LowestCommonAncestor(headID, targetID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no common ancestor between HEAD and %s", targetBranch)
	}

	headCommit, _, err := m.r.Commits.Get(headID)
	if err != nil {
		return nil, err
	}
	targetCommit, _, err := m.r.Commits.Get(targetID)
	if err != nil {
		return nil, err
	}
	lcaCommit, _, err := m.r.Commits.Get(lca)
	if err != nil {
		return nil, err
	}

	baseEntries, err := entriesByPath(m.r.Nodes, lcaCommit.RootTreeHash)
	if err != nil {
		return nil, err
	}
	headEntries, err := entriesByPath(m.r.Nodes, headCommit.RootTreeHash)
	if err != nil {
		return nil, err
	}
	targetEntries, err := entriesByPath(m.r.Nodes, targetCommit.RootTreeHash)
	if err != nil {
		return nil, err
	}

	paths := unionPaths(baseEntries, headEntries, targetEntries)
	var conflicts []Conflict

	conflictsKV, err := m.conflictsKV()
	if err != nil {
		return nil, err
	}
	defer conflictsKV.Close()

	// Incoming one-sided changes are staged as they are applied, so the
	// eventual merge commit's tree carries them (HEAD's own changes are
	// already in its tree).
	for _, p := range paths {
		base, hasBase := baseEntries[p]
		head, hasHeadSide := headEntries[p]
		target, hasTarget := targetEntries[p]

		switch classify(hasBase, hasHeadSide, hasTarget, base, head, target) {
		case classUnchanged, classOursOnly:
			// HEAD already matches the chosen side; nothing to do.
		case classTheirsOnly:
			contentHash, err := m.materialize(p, target)
			if err != nil {
				return nil, err
			}
			status := staging.StatusModified
			if !hasHeadSide {
				status = staging.StatusAdded
			}
			if err := sm.PutStaged(p, staging.StagedEntry{
				Path: p, Hash: contentHash.String(), Status: status, EntryType: staging.EntryRegular,
			}); err != nil {
				return nil, err
			}
		case classTheirsRemoved:
			os.Remove(filepath.Join(m.r.Root, filepath.FromSlash(p)))
			if hasHeadSide {
				if err := sm.PutStaged(p, staging.StagedEntry{
					Path: p, Hash: head.Hash.String(), Status: staging.StatusRemoved, EntryType: staging.EntryRegular,
				}); err != nil {
					return nil, err
				}
			}
		case classBothSame:
			// Both changed to the same content; HEAD already correct.
		case classBothRemoved:
			fullPath := filepath.Join(m.r.Root, filepath.FromSlash(p))
			os.Remove(fullPath)
		case classConflict:
			c := Conflict{Path: p}
			if hasBase {
				c.BaseHash, c.BaseCommit = base.Hash.String(), lca.String()
			}
			if hasHeadSide {
				c.HeadHash, c.HeadCommit = head.Hash.String(), headID.String()
			}
			if hasTarget {
				c.MergeHash, c.MergeCommit = target.Hash.String(), targetID.String()
			}
			conflicts = append(conflicts, c)
			if err := putConflict(conflictsKV, c); err != nil {
				return nil, err
			}
		}
	}

	// MERGE_HEAD/ORIG_HEAD are written for every non-fast-forward merge,
	// conflicting or not: the next commit (immediate for a clean merge,
	// after resolution otherwise) picks up MERGE_HEAD as its second
	// parent.
	if err := writeHeadFile(m.mergeHeadPath(), targetID); err != nil {
		return nil, err
	}
	if err := writeHeadFile(m.origHeadPath(), headID); err != nil {
		return nil, err
	}

	return &Result{Conflicts: conflicts}, nil
}

func (m *Merger) fastForwardCheckout(from, to ohash.Hash128) error {
	fromCommit, _, err := m.r.Commits.Get(from)
	if err != nil {
		return err
	}
	toCommit, _, err := m.r.Commits.Get(to)
	if err != nil {
		return err
	}
	diffs, err := objects.DiffTrees(m.r.Nodes, fromCommit.RootTreeHash, toCommit.RootTreeHash)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		fullPath := filepath.Join(m.r.Root, filepath.FromSlash(d.Path))
		if d.NewHash.IsZero() {
			os.Remove(fullPath)
			continue
		}
		if err := m.materializeHash(d.Path, d.NewHash); err != nil {
			return err
		}
	}
	return nil
}

func (m *Merger) materialize(relPath string, entry objects.VNodeChild) (ohash.Hash128, error) {
	fileNode, err := m.r.Nodes.GetFile(entry.Hash)
	if err != nil {
		return ohash.Hash128{}, err
	}
	if err := m.materializeHash(relPath, entry.Hash); err != nil {
		return ohash.Hash128{}, err
	}
	return fileNode.ContentHash, nil
}

func (m *Merger) materializeHash(relPath string, fileNodeHash ohash.Hash128) error {
	fileNode, err := m.r.Nodes.GetFile(fileNodeHash)
	if err != nil {
		return err
	}
	data, err := m.r.Objects.ReadAll(fileNode.ContentHash, fileNode.Ext)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}
	return os.WriteFile(fullPath, data, 0o644)
}

func writeHeadFile(path string, id ohash.Hash128) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(id.String()), 0o644)
}

// Conflicts returns every recorded conflict for the in-progress merge.
func (m *Merger) Conflicts() ([]Conflict, error) {
	kv, err := m.conflictsKV()
	if err != nil {
		return nil, err
	}
	defer kv.Close()
	var out []Conflict
	err = kv.Range(nil, nil, func(e kvstore.Entry) error {
		c, err := decodeConflict(e.Value)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// ResolveOurs checks out HEAD's version of path and clears its conflict.
func (m *Merger) ResolveOurs(relPath string) error {
	c, ok, err := m.getConflict(relPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not find merge conflict for: %s", relPath)
	}
	if c.HeadHash == "" {
		os.Remove(filepath.Join(m.r.Root, filepath.FromSlash(relPath)))
		return m.clearConflict(relPath)
	}
	h, err := ohash.ParseHash128(c.HeadHash)
	if err != nil {
		return err
	}
	if err := m.materializeHash(relPath, h); err != nil {
		return err
	}
	return m.clearConflict(relPath)
}

// ResolveTheirs checks out TARGET's version of path and clears its
// conflict.
func (m *Merger) ResolveTheirs(relPath string) error {
	c, ok, err := m.getConflict(relPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not find merge conflict for: %s", relPath)
	}
	if c.MergeHash == "" {
		os.Remove(filepath.Join(m.r.Root, filepath.FromSlash(relPath)))
		return m.clearConflict(relPath)
	}
	h, err := ohash.ParseHash128(c.MergeHash)
	if err != nil {
		return err
	}
	if err := m.materializeHash(relPath, h); err != nil {
		return err
	}
	return m.clearConflict(relPath)
}

func (m *Merger) getConflict(relPath string) (Conflict, bool, error) {
	kv, err := m.conflictsKV()
	if err != nil {
		return Conflict{}, false, err
	}
	defer kv.Close()
	data, ok, err := kv.Get([]byte(relPath))
	if err != nil || !ok {
		return Conflict{}, ok, err
	}
	c, err := decodeConflict(data)
	return c, true, err
}

func (m *Merger) clearConflict(relPath string) error {
	kv, err := m.conflictsKV()
	if err != nil {
		return err
	}
	defer kv.Close()
	return kv.Delete([]byte(relPath))
}

// Abort cancels an in-progress merge, restoring HEAD's working-tree
// content and removing MERGE_HEAD/ORIG_HEAD and all conflict records.
func (m *Merger) Abort() error {
	headID, _, err := m.r.Refs.HeadCommit()
	if err != nil {
		return err
	}
	commit, ok, err := m.r.Commits.Get(headID)
	if err != nil {
		return err
	}
	if ok {
		entries, err := objects.ListAll(m.r.Nodes, commit.RootTreeHash)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Kind == objects.EntryDir {
				continue
			}
			if err := m.materializeHash(e.FullPath, e.Hash); err != nil {
				return err
			}
		}
	}
	kv, err := m.conflictsKV()
	if err != nil {
		return err
	}
	if err := kv.Range(nil, nil, func(e kvstore.Entry) error { return kv.Delete(e.Key) }); err != nil {
		kv.Close()
		return err
	}
	kv.Close()
	os.Remove(m.mergeHeadPath())
	os.Remove(m.origHeadPath())
	return nil
}

// entriesByPath flattens a commit's tree into a path-keyed map.
func entriesByPath(nodes *objects.NodeStore, root ohash.Hash128) (map[string]objects.VNodeChild, error) {
	list, err := objects.ListAll(nodes, root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]objects.VNodeChild, len(list))
	for _, e := range list {
		out[e.FullPath] = e
	}
	return out, nil
}

func unionPaths(maps ...map[string]objects.VNodeChild) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, mp := range maps {
		for p := range mp {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out
}

type classKind int

const (
	classUnchanged classKind = iota
	classOursOnly
	classTheirsOnly
	classBothSame
	classConflict
	classBothRemoved
	classTheirsRemoved
)

func classify(hasBase, hasHead, hasTarget bool, base, head, target objects.VNodeChild) classKind {
	baseHash, headHash, targetHash := base.Hash, head.Hash, target.Hash
	headChanged := !hasBase && hasHead || hasBase && hasHead && baseHash != headHash || hasBase && !hasHead
	targetChanged := !hasBase && hasTarget || hasBase && hasTarget && baseHash != targetHash || hasBase && !hasTarget

	switch {
	case !headChanged && !targetChanged:
		return classUnchanged
	case headChanged && !targetChanged:
		return classOursOnly
	case !headChanged && targetChanged:
		if !hasTarget {
			return classTheirsRemoved
		}
		return classTheirsOnly
	default: // both changed
		if !hasHead && !hasTarget {
			return classBothRemoved
		}
		if hasHead && hasTarget && headHash == targetHash {
			return classBothSame
		}
		return classConflict
	}
}

// ancestorsSet is used by DeleteBranch's fully-merged check, implemented
// here since it needs commit-graph + refs together.
func ancestorsSet(g *commitgraph.Graph, id ohash.Hash128) (map[ohash.Hash128]bool, error) {
	anc, err := g.Ancestors(id)
	if err != nil {
		return nil, err
	}
	out := make(map[ohash.Hash128]bool, len(anc))
	for _, c := range anc {
		out[c.ID] = true
	}
	return out, nil
}

// FullyMerged reports whether every commit reachable from branch is also
// reachable from some other local branch — the predicate DeleteBranch
// uses to refuse deleting a branch with unmerged work.
func FullyMerged(r *repo.Repository, branch string) (bool, error) {
	target, ok, err := r.Refs.GetBranch(branch)
	if err != nil || !ok {
		return false, err
	}
	targetAncestors, err := ancestorsSet(r.Commits, target)
	if err != nil {
		return false, err
	}
	branches, err := r.Refs.ListBranches()
	if err != nil {
		return false, err
	}
	for _, other := range branches {
		if other == branch {
			continue
		}
		otherHead, ok, err := r.Refs.GetBranch(other)
		if err != nil || !ok {
			continue
		}
		reachable, err := ancestorsSet(r.Commits, otherHead)
		if err != nil {
			return false, err
		}
		allFound := true
		for id := range targetAncestors {
			if !reachable[id] {
				allFound = false
				break
			}
		}
		if allFound {
			return true, nil
		}
	}
	return len(targetAncestors) == 0, nil
}
