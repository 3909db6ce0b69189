// Package staging implements the staging area and status engine: a set
// of per-parent-directory KVs recording pending Add/Modify/Remove
// operations, compared three ways against the working tree and the HEAD
// commit's Merkle tree.
package staging

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NahomAnteneh/oxen/internal/kvstore"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

// Status is a staged or working-tree entry's classification.
type Status string

const (
	StatusAdded      Status = "added"
	StatusModified   Status = "modified"
	StatusRemoved    Status = "removed"
	StatusUntracked  Status = "untracked"
)

// EntryType discriminates what kind of content a staged entry holds.
type EntryType string

const (
	EntryRegular  EntryType = "regular"
	EntryTabular  EntryType = "tabular"
	EntrySchema   EntryType = "schema"
)

// StagedEntry is one pending change recorded in the staging area.
type StagedEntry struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Status    Status    `json:"status"`
	EntryType EntryType `json:"entry_type"`
}

var (
	ErrPathHasNoParent = fmt.Errorf("path has no parent")
)

// ErrFileDoesNotExist is returned by Add when the target path is absent.
type ErrFileDoesNotExist struct{ Path string }

func (e *ErrFileDoesNotExist) Error() string { return fmt.Sprintf("file does not exist: %s", e.Path) }

// ErrCouldNotFindMergeConflict is returned when a path is expected to
// carry a recorded merge conflict but none is found.
type ErrCouldNotFindMergeConflict struct{ Path string }

func (e *ErrCouldNotFindMergeConflict) Error() string {
	return fmt.Sprintf("could not find merge conflict for: %s", e.Path)
}

// Manager coordinates the per-parent-directory staged-entries KVs for one
// repository.
type Manager struct {
	r *repo.Repository

	mu   sync.Mutex
	open map[string]*kvstore.Store
}

// New creates a Manager for r.
func New(r *repo.Repository) *Manager {
	return &Manager{r: r, open: make(map[string]*kvstore.Store)}
}

// Close releases every opened per-directory KV handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, kv := range m.open {
		if err := kv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.open = make(map[string]*kvstore.Store)
	return firstErr
}

func escapeDirPath(dir string) string {
	if dir == "" {
		return "_root"
	}
	return strings.ReplaceAll(dir, "/", "__")
}

func (m *Manager) dirKV(dir string) (*kvstore.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kv, ok := m.open[dir]; ok {
		return kv, nil
	}
	path := filepath.Join(m.r.StagedDir(), escapeDirPath(dir), "db")
	kv, err := kvstore.Open(path)
	if err != nil {
		return nil, err
	}
	m.open[dir] = kv
	return kv, nil
}

func (m *Manager) dirsKV() (*kvstore.Store, error) {
	return m.dirKV("\x00dirs")
}

func parentDir(relPath string) string {
	d := slashDir(relPath)
	if d == "." {
		return ""
	}
	return d
}

// slashDir is the forward-slash analogue of filepath.Dir.
func slashDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "."
	}
	return p[:i]
}

// PutStaged records a staged entry for relPath.
func (m *Manager) PutStaged(relPath string, entry StagedEntry) error {
	dir := parentDir(relPath)
	kv, err := m.dirKV(dir)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := kv.Put([]byte(filepath.Base(relPath)), data); err != nil {
		return err
	}
	dirs, err := m.dirsKV()
	if err != nil {
		return err
	}
	return dirs.Put([]byte(dir), []byte("1"))
}

// GetStaged returns the staged entry for relPath, if any.
func (m *Manager) GetStaged(relPath string) (*StagedEntry, bool, error) {
	dir := parentDir(relPath)
	kv, err := m.dirKV(dir)
	if err != nil {
		return nil, false, err
	}
	data, ok, err := kv.Get([]byte(filepath.Base(relPath)))
	if err != nil || !ok {
		return nil, ok, err
	}
	var e StagedEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("corrupt staged entry for %s: %w", relPath, err)
	}
	return &e, true, nil
}

// ClearStaged removes the staged entry for relPath (used by `restore
// --staged` and after a successful commit).
func (m *Manager) ClearStaged(relPath string) error {
	dir := parentDir(relPath)
	kv, err := m.dirKV(dir)
	if err != nil {
		return err
	}
	return kv.Delete([]byte(filepath.Base(relPath)))
}

// AllStaged returns every staged entry across every parent directory.
func (m *Manager) AllStaged() ([]StagedEntry, error) {
	dirs, err := m.listStagedDirs()
	if err != nil {
		return nil, err
	}
	var out []StagedEntry
	for _, dir := range dirs {
		kv, err := m.dirKV(dir)
		if err != nil {
			return nil, err
		}
		if err := kv.Range(nil, nil, func(e kvstore.Entry) error {
			var se StagedEntry
			if err := json.Unmarshal(e.Value, &se); err != nil {
				return err
			}
			out = append(out, se)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Manager) listStagedDirs() ([]string, error) {
	kv, err := m.dirsKV()
	if err != nil {
		return nil, err
	}
	var dirs []string
	if err := kv.Range(nil, nil, func(e kvstore.Entry) error {
		dirs = append(dirs, string(e.Key))
		return nil
	}); err != nil {
		return nil, err
	}
	return dirs, nil
}

// Clear removes every staged entry (used after a successful commit).
func (m *Manager) Clear() error {
	dirs, err := m.listStagedDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		kv, err := m.dirKV(dir)
		if err != nil {
			return err
		}
		if err := kv.Range(nil, nil, func(e kvstore.Entry) error {
			return kv.Delete(e.Key)
		}); err != nil {
			return err
		}
	}
	dirsKV, err := m.dirsKV()
	if err != nil {
		return err
	}
	return dirsKV.Range(nil, nil, func(e kvstore.Entry) error {
		return dirsKV.Delete(e.Key)
	})
}

// StatusEntry is one reported line of `status` output.
type StatusEntry struct {
	Path   string
	Status Status
}

// StatusResult is the full three-way comparison result.
type StatusResult struct {
	Staged    []StatusEntry
	Untracked []string
	Removed   []string
	Conflicts []string
}

// IsClean reports whether there is nothing to commit and nothing untracked.
func (s *StatusResult) IsClean() bool {
	return len(s.Staged) == 0 && len(s.Untracked) == 0 && len(s.Removed) == 0
}

const concurrency = 8

// Status runs a three-way comparison: staged KV first, then HEAD tree
// with an mtime fast path before falling back to content hashing.
func (m *Manager) Status(headRoot ohash.Hash128, conflictPaths []string) (*StatusResult, error) {
	if m.r.IsShallow() {
		return nil, &repo.ErrShallowClone{}
	}
	staged, err := m.AllStaged()
	if err != nil {
		return nil, err
	}
	stagedSet := make(map[string]StagedEntry, len(staged))
	result := &StatusResult{Conflicts: conflictPaths}
	for _, e := range staged {
		stagedSet[e.Path] = e
		result.Staged = append(result.Staged, StatusEntry{Path: e.Path, Status: e.Status})
	}

	headEntries, err := objects.ListAll(m.r.Nodes, headRoot)
	if err != nil {
		return nil, err
	}
	headByPath := make(map[string]objects.VNodeChild, len(headEntries))
	for _, e := range headEntries {
		headByPath[e.FullPath] = e
	}

	var paths []string
	err = filepath.WalkDir(m.r.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(m.r.Root, p)
		if rerr != nil {
			return rerr
		}
		rel = objects.NormalizePath(rel)
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(rel, repo.DirName+"/") || rel == repo.DirName {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk working tree: %w", err)
	}

	var mu sync.Mutex
	var untracked []string
	seen := make(map[string]bool, len(paths))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, p := range paths {
		p := p
		mu.Lock()
		seen[p] = true
		mu.Unlock()
		if _, ok := stagedSet[p]; ok {
			continue
		}
		headEntry, inHead := headByPath[p]
		if !inHead {
			mu.Lock()
			untracked = append(untracked, p)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			modified, err := m.isModified(p, headEntry)
			if err != nil {
				return err
			}
			if modified {
				mu.Lock()
				result.Staged = append(result.Staged, StatusEntry{Path: p, Status: StatusModified})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for p := range headByPath {
		if !seen[p] {
			if _, staged := stagedSet[p]; !staged {
				result.Removed = append(result.Removed, p)
			}
		}
	}

	sort.Strings(untracked)
	result.Untracked = untracked
	sort.Slice(result.Staged, func(i, j int) bool { return result.Staged[i].Path < result.Staged[j].Path })
	sort.Strings(result.Removed)
	return result, nil
}

func (m *Manager) isModified(relPath string, headEntry objects.VNodeChild) (bool, error) {
	if headEntry.Kind == objects.EntryDir {
		return false, nil
	}
	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	info, err := os.Stat(fullPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	fileNode, err := m.r.Nodes.GetFile(headEntry.Hash)
	if err != nil {
		return false, err
	}
	mtime := info.ModTime()
	if mtime.Unix() == fileNode.MtimeSec && int32(mtime.Nanosecond()) == fileNode.MtimeNsec {
		return false, nil
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	h := ohash.HashBytes(data)
	return h != fileNode.ContentHash, nil
}

// Add resolves path (file or directory) and stages it. headRoot is the
// current HEAD tree, used to no-op an add whose content matches what is
// already committed.
func (m *Manager) Add(relPath string, headRoot ohash.Hash128) error {
	if m.r.IsShallow() {
		return &repo.ErrShallowClone{}
	}
	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m.addRemoved(relPath, headRoot)
		}
		return fmt.Errorf("failed to stat %s: %w", relPath, err)
	}
	if info.IsDir() {
		return m.addDir(relPath, headRoot)
	}
	return m.addFile(relPath, headRoot)
}

func (m *Manager) addDir(relPath string, headRoot ohash.Hash128) error {
	full := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	var files []string
	err := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(m.r.Root, p)
		if err != nil {
			return err
		}
		files = append(files, objects.NormalizePath(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", relPath, err)
	}
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, f := range files {
		f := f
		g.Go(func() error { return m.addFile(f, headRoot) })
	}
	return g.Wait()
}

func (m *Manager) addFile(relPath string, headRoot ohash.Hash128) error {
	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	h := ohash.HashBytes(data)

	entry, err := objects.Lookup(m.r.Nodes, headRoot, relPath)
	if err != nil {
		return err
	}
	status := StatusAdded
	if entry != nil {
		if entry.Kind != objects.EntryDir {
			fileNode, err := m.r.Nodes.GetFile(entry.Hash)
			if err != nil {
				return err
			}
			if fileNode.ContentHash == h {
				m.ClearStaged(relPath)
				return nil
			}
		}
		status = StatusModified
	}

	if _, _, err := m.r.Objects.WriteFile(fullPath, filepath.Ext(relPath)); err != nil {
		return err
	}

	return m.PutStaged(relPath, StagedEntry{Path: relPath, Hash: h.String(), Status: status, EntryType: EntryRegular})
}

func (m *Manager) addRemoved(relPath string, headRoot ohash.Hash128) error {
	entry, err := objects.Lookup(m.r.Nodes, headRoot, relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return &ErrFileDoesNotExist{Path: relPath}
	}
	return m.PutStaged(relPath, StagedEntry{Path: relPath, Hash: entry.Hash.String(), Status: StatusRemoved, EntryType: EntryRegular})
}

// Rm stages a removal for relPath. recursive is required for a
// directory. If stagedOnly is true, only the staging record changes; the
// working-tree file is left in place.
func (m *Manager) Rm(relPath string, recursive, stagedOnly bool, headRoot ohash.Hash128) error {
	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	info, err := os.Stat(fullPath)
	if err == nil && info.IsDir() {
		if !recursive {
			return fmt.Errorf("%s is a directory; use -r to remove recursively", relPath)
		}
		var files []string
		werr := filepath.WalkDir(fullPath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(m.r.Root, p)
			if err != nil {
				return err
			}
			files = append(files, objects.NormalizePath(rel))
			return nil
		})
		if werr != nil {
			return fmt.Errorf("failed to walk %s: %w", relPath, werr)
		}
		for _, f := range files {
			if err := m.rmOne(f, stagedOnly, headRoot); err != nil {
				return err
			}
		}
		if !stagedOnly {
			if err := os.RemoveAll(fullPath); err != nil {
				return fmt.Errorf("failed to remove directory %s: %w", relPath, err)
			}
		}
		return nil
	}
	return m.rmOne(relPath, stagedOnly, headRoot)
}

func (m *Manager) rmOne(relPath string, stagedOnly bool, headRoot ohash.Hash128) error {
	entry, err := objects.Lookup(m.r.Nodes, headRoot, relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return &ErrFileDoesNotExist{Path: relPath}
	}
	if err := m.PutStaged(relPath, StagedEntry{Path: relPath, Hash: entry.Hash.String(), Status: StatusRemoved, EntryType: EntryRegular}); err != nil {
		return err
	}
	if !stagedOnly {
		fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", relPath, err)
		}
	}
	return nil
}

// Restore reverts relPath. If stagedOnly, it only drops the staged
// entry. Otherwise it materializes the HEAD version over the working
// tree copy.
func (m *Manager) Restore(relPath string, stagedOnly bool, headRoot ohash.Hash128) error {
	if stagedOnly {
		return m.ClearStaged(relPath)
	}
	entry, err := objects.Lookup(m.r.Nodes, headRoot, relPath)
	if err != nil {
		return err
	}
	if entry == nil {
		return &ErrFileDoesNotExist{Path: relPath}
	}
	fileNode, err := m.r.Nodes.GetFile(entry.Hash)
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
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to restore %s: %w", relPath, err)
	}
	mtime := timeFromFile(fileNode)
	return os.Chtimes(fullPath, mtime, mtime)
}

func timeFromFile(f *objects.File) time.Time {
	return time.Unix(f.MtimeSec, int64(f.MtimeNsec))
}
