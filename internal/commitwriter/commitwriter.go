// Package commitwriter implements commit creation and checkout:
// assembling a commit's tree from HEAD plus staged changes, and
// materializing a target commit's tree back onto the working tree.
package commitwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

// ErrUncommittedChanges is returned by Checkout when a path differs
// between the working tree and HEAD but is not staged.
type ErrUncommittedChanges struct{ Path string }

func (e *ErrUncommittedChanges) Error() string {
	return fmt.Sprintf("uncommitted changes would be overwritten: %s", e.Path)
}

// ErrNothingToCommit is returned when there is no staged change and no
// merge in progress.
var ErrNothingToCommit = fmt.Errorf("nothing to commit: no staged changes")

// SchemaLookup lets a caller (the tabular engine) attach a Schema node to
// a staged path at commit time, without commitwriter depending on the
// tabular package.
type SchemaLookup func(relPath string) (*objects.Schema, bool, error)

// Writer assembles and writes commits, and performs checkout.
type Writer struct {
	r       *repo.Repository
	staging *staging.Manager
}

// New creates a Writer for repository r, sharing staging manager sm.
func New(r *repo.Repository, sm *staging.Manager) *Writer {
	return &Writer{r: r, staging: sm}
}

func (w *Writer) mergeHeadPath() string { return filepath.Join(w.r.OxenDir, "merge", "MERGE_HEAD") }
func (w *Writer) origHeadPath() string  { return filepath.Join(w.r.OxenDir, "merge", "ORIG_HEAD") }

func (w *Writer) mergeInProgress() (ohash.Hash128, bool, error) {
	data, err := os.ReadFile(w.mergeHeadPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ohash.Hash128{}, false, nil
		}
		return ohash.Hash128{}, false, err
	}
	h, err := ohash.ParseHash128(trim(string(data)))
	if err != nil {
		return ohash.Hash128{}, false, fmt.Errorf("corrupt MERGE_HEAD: %w", err)
	}
	return h, true, nil
}

func trim(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// Commit assembles the staged changes atop HEAD into a new commit,
// writes it, and moves the current branch ref.
func (w *Writer) Commit(message, author, email string, schemaLookup SchemaLookup) (ohash.Hash128, error) {
	headCommitID, hasHead, err := w.r.Refs.HeadCommit()
	if err != nil {
		return ohash.Hash128{}, err
	}

	var headRoot ohash.Hash128
	var headEntries []objects.VNodeChild
	if hasHead {
		headCommit, ok, err := w.r.Commits.Get(headCommitID)
		if err != nil {
			return ohash.Hash128{}, err
		}
		if !ok {
			return ohash.Hash128{}, fmt.Errorf("HEAD commit %s not found", headCommitID)
		}
		headRoot = headCommit.RootTreeHash
		headEntries, err = objects.ListAll(w.r.Nodes, headRoot)
		if err != nil {
			return ohash.Hash128{}, err
		}
	}

	staged, err := w.staging.AllStaged()
	if err != nil {
		return ohash.Hash128{}, err
	}

	mergeHead, merging, err := w.mergeInProgress()
	if err != nil {
		return ohash.Hash128{}, err
	}

	if len(staged) == 0 && !merging {
		return ohash.Hash128{}, ErrNothingToCommit
	}

	byPath := make(map[string]objects.FileEntry, len(headEntries)+len(staged))
	for _, e := range headEntries {
		if e.Kind == objects.EntryDir {
			continue
		}
		fn, err := w.r.Nodes.GetFile(e.Hash)
		if err != nil {
			return ohash.Hash128{}, err
		}
		byPath[e.FullPath] = objects.FileEntry{Path: e.FullPath, File: fn}
	}

	for _, se := range staged {
		switch se.Status {
		case staging.StatusRemoved:
			delete(byPath, se.Path)
		case staging.StatusAdded, staging.StatusModified:
			contentHash, err := ohash.ParseHash128(se.Hash)
			if err != nil {
				return ohash.Hash128{}, fmt.Errorf("corrupt staged hash for %s: %w", se.Path, err)
			}
			fullPath := filepath.Join(w.r.Root, filepath.FromSlash(se.Path))
			info, err := os.Stat(fullPath)
			if err != nil {
				return ohash.Hash128{}, fmt.Errorf("failed to stat %s: %w", se.Path, err)
			}
			fn := &objects.File{
				ContentHash: contentHash,
				Size:        info.Size(),
				MtimeSec:    info.ModTime().Unix(),
				MtimeNsec:   int32(info.ModTime().Nanosecond()),
				Ext:         filepath.Ext(se.Path),
			}
			fe := objects.FileEntry{Path: se.Path, File: fn}
			if se.EntryType == staging.EntryTabular && schemaLookup != nil {
				if schema, ok, err := schemaLookup(se.Path); err == nil && ok {
					fe.Schema = schema
					fe.File = nil
				}
			}
			byPath[se.Path] = fe
		}
	}

	entries := make([]objects.FileEntry, 0, len(byPath))
	var fileHashes []ohash.Hash128
	for _, fe := range byPath {
		entries = append(entries, fe)
		if fe.File != nil {
			fileHashes = append(fileHashes, fe.File.ContentHash)
		}
	}

	rootHash, err := objects.BuildTree(w.r.Nodes, entries)
	if err != nil {
		return ohash.Hash128{}, err
	}

	var parents []ohash.Hash128
	if hasHead {
		parents = append(parents, headCommitID)
	}
	if merging {
		parents = append(parents, mergeHead)
	}

	meta := ohash.CommitMeta{
		ParentIDs:     parents,
		Message:       message,
		Author:        author,
		Email:         email,
		TimestampUnix: time.Now().Unix(),
		RootTreeHash:  rootHash,
	}
	commitID := ohash.HashCommit(meta, fileHashes)

	commit := &commitgraph.Commit{
		ID:            commitID,
		ParentIDs:     parents,
		Message:       message,
		Author:        author,
		AuthorEmail:   email,
		TimestampUnix: meta.TimestampUnix,
		RootTreeHash:  rootHash,
	}
	if err := w.r.Commits.Put(commit); err != nil {
		return ohash.Hash128{}, err
	}

	branch, isBranch, err := w.r.Refs.Head()
	if err != nil {
		return ohash.Hash128{}, err
	}
	if isBranch {
		if err := w.r.Refs.SetBranchHead(branch, commitID); err != nil {
			return ohash.Hash128{}, err
		}
	} else {
		if err := w.r.Refs.SetHeadDetached(commitID); err != nil {
			return ohash.Hash128{}, err
		}
	}

	if err := w.staging.Clear(); err != nil {
		return ohash.Hash128{}, err
	}
	if merging {
		os.Remove(w.mergeHeadPath())
		os.Remove(w.origHeadPath())
	}

	return commitID, nil
}

// Checkout switches the working tree and HEAD to target (a branch name
// or a commit id).
func (w *Writer) Checkout(target string, createBranch bool) error {
	var targetCommitID ohash.Hash128
	targetIsBranch := true
	if createBranch {
		if _, ok, err := w.r.Refs.GetBranch(target); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("branch already exists: %s", target)
		}
		id, hasHead, err := w.r.Refs.HeadCommit()
		if err != nil {
			return err
		}
		if !hasHead {
			return fmt.Errorf("cannot create branch %s: no commits yet", target)
		}
		targetCommitID = id
	} else {
		var err error
		targetCommitID, targetIsBranch, err = w.resolveTarget(target)
		if err != nil {
			return err
		}
	}

	currentBranch, curIsBranch, err := w.r.Refs.Head()
	if err == nil && curIsBranch && curIsBranch == targetIsBranch && currentBranch == target {
		return nil
	}

	currentCommitID, hasCurrent, err := w.r.Refs.HeadCommit()
	if err != nil {
		return err
	}

	var currentRoot, targetRoot ohash.Hash128
	if hasCurrent {
		c, ok, err := w.r.Commits.Get(currentCommitID)
		if err != nil {
			return err
		}
		if ok {
			currentRoot = c.RootTreeHash
		}
	}
	targetCommit, ok, err := w.r.Commits.Get(targetCommitID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit does not exist: %s", targetCommitID)
	}
	targetRoot = targetCommit.RootTreeHash

	diffs, err := objects.DiffTrees(w.r.Nodes, currentRoot, targetRoot)
	if err != nil {
		return err
	}

	if hasCurrent {
		status, err := w.staging.Status(currentRoot, nil)
		if err != nil {
			return err
		}
		modifiedSet := make(map[string]bool, len(status.Staged))
		for _, e := range status.Staged {
			modifiedSet[e.Path] = true
		}
		for _, d := range diffs {
			if modifiedSet[d.Path] {
				return &ErrUncommittedChanges{Path: d.Path}
			}
		}
	}

	if err := w.applyDiffs(diffs); err != nil {
		return err
	}

	if targetIsBranch {
		if createBranch {
			if err := w.r.Refs.CreateBranch(target, targetCommitID); err != nil {
				return err
			}
		}
		return w.r.Refs.SetHeadBranch(target)
	}
	return w.r.Refs.SetHeadDetached(targetCommitID)
}

// applyDiffs writes a tree diff onto the working tree: removed paths are
// deleted, added/changed paths are rewritten from the object store with
// the File node's mtime restored (both seconds and nanoseconds, keeping
// the status fast path valid afterwards).
func (w *Writer) applyDiffs(diffs []objects.DiffEntry) error {
	for _, d := range diffs {
		fullPath := filepath.Join(w.r.Root, filepath.FromSlash(d.Path))
		if d.NewHash.IsZero() {
			os.Remove(fullPath)
			continue
		}
		fileNode, err := w.r.Nodes.GetFile(d.NewHash)
		if err != nil {
			return err
		}
		data, err := w.r.Objects.ReadAll(fileNode.ContentHash, fileNode.Ext)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", d.Path, err)
		}
		if err := os.WriteFile(fullPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", d.Path, err)
		}
		mtime := time.Unix(fileNode.MtimeSec, int64(fileNode.MtimeNsec))
		if err := os.Chtimes(fullPath, mtime, mtime); err != nil {
			return fmt.Errorf("failed to restore mtime for %s: %w", d.Path, err)
		}
	}
	return nil
}

// Materialize applies the content difference between two tree roots to
// the working tree without touching HEAD. Pull and clone use it after
// advancing the branch ref, where Checkout's same-branch no-op would
// otherwise skip the working-tree update. A zero fromRoot materializes
// the full target tree.
func (w *Writer) Materialize(fromRoot, toRoot ohash.Hash128) error {
	diffs, err := objects.DiffTrees(w.r.Nodes, fromRoot, toRoot)
	if err != nil {
		return err
	}
	return w.applyDiffs(diffs)
}

func (w *Writer) resolveTarget(target string) (ohash.Hash128, bool, error) {
	if id, err := ohash.ParseHash128(target); err == nil {
		if _, ok, err := w.r.Commits.Get(id); err != nil {
			return ohash.Hash128{}, false, err
		} else if ok {
			return id, false, nil
		}
	}
	commit, ok, err := w.r.Refs.GetBranch(target)
	if err != nil {
		return ohash.Hash128{}, false, err
	}
	if !ok {
		return ohash.Hash128{}, false, fmt.Errorf("branch not found: %s", target)
	}
	return commit, true, nil
}
