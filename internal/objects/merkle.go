package objects

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

// BucketPrefixLen is the number of hex characters of hash_path(P) used to
// bucket a directory entry into a VNode. 2 hex chars (256 buckets per
// directory level) is fixed here and never changed.
const BucketPrefixLen = 2

// FileEntry is one file at a full repo-relative path, as seen by the tree
// builder: either a plain/tabular file (content hash known) or a file
// that additionally carries a Schema marker.
type FileEntry struct {
	Path   string
	File   *File
	Schema *Schema
}

// BuildTree constructs the full Merkle tree for a set of files and
// returns the root Dir's hash. Each directory level gets its own Dir
// node; a directory's VNode buckets hold a mix of File/Schema entries
// and subdirectory (EntryDir) entries that share a 2-hex hash_path
// prefix. Empty directories are never represented.
func BuildTree(nodes *NodeStore, files []FileEntry) (ohash.Hash128, error) {
	filesByDir := make(map[string][]FileEntry)
	dirSet := map[string]struct{}{"": {}}
	for _, fe := range files {
		p := NormalizePath(fe.Path)
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		filesByDir[dir] = append(filesByDir[dir], FileEntry{Path: p, File: fe.File, Schema: fe.Schema})
		for d := dir; d != ""; d = parentOf(d) {
			dirSet[d] = struct{}{}
		}
	}
	subdirsByParent := make(map[string][]string)
	for d := range dirSet {
		if d == "" {
			continue
		}
		parent := parentOf(d)
		subdirsByParent[parent] = append(subdirsByParent[parent], d)
	}

	root, err := buildDirNode(nodes, "", filesByDir, subdirsByParent)
	if err != nil {
		return ohash.Hash128{}, err
	}
	return root, nil
}

func parentOf(dir string) string {
	p := path.Dir(dir)
	if p == "." {
		return ""
	}
	return p
}

func buildDirNode(nodes *NodeStore, dirPath string, filesByDir map[string][]FileEntry, subdirsByParent map[string][]string) (ohash.Hash128, error) {
	var entries []VNodeChild

	for _, fe := range filesByDir[dirPath] {
		var childHash ohash.Hash128
		var kind EntryKind
		if fe.Schema != nil {
			sh, err := nodes.PutSchema(fe.Schema)
			if err != nil {
				return ohash.Hash128{}, err
			}
			childHash = sh
			kind = EntrySchema
		} else {
			fh, err := nodes.PutFile(fe.File)
			if err != nil {
				return ohash.Hash128{}, err
			}
			childHash = fh
			kind = EntryFile
		}
		entries = append(entries, VNodeChild{FullPath: fe.Path, Hash: childHash, Kind: kind})
	}

	for _, sub := range subdirsByParent[dirPath] {
		childHash, err := buildDirNode(nodes, sub, filesByDir, subdirsByParent)
		if err != nil {
			return ohash.Hash128{}, err
		}
		entries = append(entries, VNodeChild{FullPath: sub, Hash: childHash, Kind: EntryDir})
	}

	buckets := make(map[string][]VNodeChild)
	for _, e := range entries {
		prefix := ohash.HashPath(e.FullPath).Prefix(BucketPrefixLen)
		buckets[prefix] = append(buckets[prefix], e)
	}

	dir := &Dir{}
	for prefix, children := range buckets {
		vn := &VNode{Children: children}
		vh, err := nodes.PutVNode(vn)
		if err != nil {
			return ohash.Hash128{}, err
		}
		dir.Children = append(dir.Children, DirChild{Prefix: prefix, VNodeHash: vh})
	}
	return nodes.PutDir(dir)
}

// Lookup resolves a path within the tree rooted at rootHash, one path
// component per directory level: at each level the candidate entry is
// the subpath up to the next separator (a subdirectory) or the full path
// itself (the leaf), binary-searched via its path-hash prefix.
func Lookup(nodes *NodeStore, rootHash ohash.Hash128, fullPath string) (*VNodeChild, error) {
	fullPath = NormalizePath(fullPath)
	cur := rootHash
	start := 0
	for {
		if cur.IsZero() {
			return nil, nil
		}
		sep := strings.IndexByte(fullPath[start:], '/')
		last := sep < 0
		candidate := fullPath
		if !last {
			candidate = fullPath[:start+sep]
		}
		child, err := lookupInDir(nodes, cur, candidate)
		if err != nil || child == nil {
			return nil, err
		}
		if last {
			return child, nil
		}
		if child.Kind != EntryDir {
			return nil, nil
		}
		cur = child.Hash
		start += sep + 1
	}
}

// lookupInDir binary-searches one Dir level for an entry whose full path
// is entryPath.
func lookupInDir(nodes *NodeStore, dirHash ohash.Hash128, entryPath string) (*VNodeChild, error) {
	dir, err := nodes.GetDir(dirHash)
	if err != nil {
		return nil, err
	}
	prefix := ohash.HashPath(entryPath).Prefix(BucketPrefixLen)
	idx := sort.Search(len(dir.Children), func(i int) bool { return dir.Children[i].Prefix >= prefix })
	if idx >= len(dir.Children) || dir.Children[idx].Prefix != prefix {
		return nil, nil
	}
	vnode, err := nodes.GetVNode(dir.Children[idx].VNodeHash)
	if err != nil {
		return nil, err
	}
	jdx := sort.Search(len(vnode.Children), func(i int) bool { return vnode.Children[i].FullPath >= entryPath })
	if jdx < len(vnode.Children) && vnode.Children[jdx].FullPath == entryPath {
		c := vnode.Children[jdx]
		return &c, nil
	}
	return nil, nil
}

// ListAll returns every file (and schema-marked file) path reachable from
// rootHash, flattening the directory hierarchy. Used by status, checkout,
// and sync.
func ListAll(nodes *NodeStore, rootHash ohash.Hash128) ([]VNodeChild, error) {
	if rootHash.IsZero() {
		return nil, nil
	}
	var out []VNodeChild
	if err := walkDir(nodes, rootHash, &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullPath < out[j].FullPath })
	return out, nil
}

func walkDir(nodes *NodeStore, dirHash ohash.Hash128, out *[]VNodeChild) error {
	dir, err := nodes.GetDir(dirHash)
	if err != nil {
		return err
	}
	for _, dc := range dir.Children {
		vnode, err := nodes.GetVNode(dc.VNodeHash)
		if err != nil {
			return fmt.Errorf("failed to load vnode %s: %w", dc.VNodeHash, err)
		}
		for _, c := range vnode.Children {
			if c.Kind == EntryDir {
				if err := walkDir(nodes, c.Hash, out); err != nil {
					return err
				}
				continue
			}
			*out = append(*out, c)
		}
	}
	return nil
}

// DiffEntry describes one path that differs between two trees.
type DiffEntry struct {
	Path    string
	OldHash ohash.Hash128 // zero if path only exists in the new tree
	NewHash ohash.Hash128 // zero if path only exists in the old tree
	Kind    EntryKind
}

// DiffTrees compares two commit trees by recursive hash comparison:
// identical Dir hashes prune the whole subtree; differing Dir hashes
// recurse only into the differing VNode buckets, and only into the
// differing subdirectories within those buckets.
func DiffTrees(nodes *NodeStore, oldRoot, newRoot ohash.Hash128) ([]DiffEntry, error) {
	var diffs []DiffEntry
	if err := diffDirs(nodes, oldRoot, newRoot, &diffs); err != nil {
		return nil, err
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs, nil
}

func diffDirs(nodes *NodeStore, oldRoot, newRoot ohash.Hash128, diffs *[]DiffEntry) error {
	if oldRoot == newRoot {
		return nil
	}
	oldBuckets, err := dirBuckets(nodes, oldRoot)
	if err != nil {
		return err
	}
	newBuckets, err := dirBuckets(nodes, newRoot)
	if err != nil {
		return err
	}

	prefixes := make(map[string]struct{}, len(oldBuckets)+len(newBuckets))
	for p := range oldBuckets {
		prefixes[p] = struct{}{}
	}
	for p := range newBuckets {
		prefixes[p] = struct{}{}
	}

	for prefix := range prefixes {
		oh, oOk := oldBuckets[prefix]
		nh, nOk := newBuckets[prefix]
		if oOk && nOk && oh == nh {
			continue
		}
		var oldChildren, newChildren []VNodeChild
		if oOk {
			v, err := nodes.GetVNode(oh)
			if err != nil {
				return err
			}
			oldChildren = v.Children
		}
		if nOk {
			v, err := nodes.GetVNode(nh)
			if err != nil {
				return err
			}
			newChildren = v.Children
		}
		if err := diffVNodeChildren(nodes, oldChildren, newChildren, diffs); err != nil {
			return err
		}
	}
	return nil
}

func dirBuckets(nodes *NodeStore, root ohash.Hash128) (map[string]ohash.Hash128, error) {
	out := make(map[string]ohash.Hash128)
	if root.IsZero() {
		return out, nil
	}
	dir, err := nodes.GetDir(root)
	if err != nil {
		return nil, err
	}
	for _, c := range dir.Children {
		out[c.Prefix] = c.VNodeHash
	}
	return out, nil
}

func diffVNodeChildren(nodes *NodeStore, oldC, newC []VNodeChild, diffs *[]DiffEntry) error {
	oldMap := make(map[string]VNodeChild, len(oldC))
	for _, c := range oldC {
		oldMap[c.FullPath] = c
	}
	newMap := make(map[string]VNodeChild, len(newC))
	for _, c := range newC {
		newMap[c.FullPath] = c
	}

	for path, oc := range oldMap {
		nc, ok := newMap[path]
		if !ok {
			if oc.Kind == EntryDir {
				if err := collectAllUnder(nodes, oc.Hash, diffs, true); err != nil {
					return err
				}
				continue
			}
			*diffs = append(*diffs, DiffEntry{Path: path, OldHash: oc.Hash, Kind: oc.Kind})
			continue
		}
		if nc.Hash == oc.Hash {
			continue
		}
		if oc.Kind == EntryDir && nc.Kind == EntryDir {
			if err := diffDirs(nodes, oc.Hash, nc.Hash, diffs); err != nil {
				return err
			}
			continue
		}
		if oc.Kind == EntryDir {
			if err := collectAllUnder(nodes, oc.Hash, diffs, true); err != nil {
				return err
			}
		}
		if nc.Kind == EntryDir {
			if err := collectAllUnder(nodes, nc.Hash, diffs, false); err != nil {
				return err
			}
			continue
		}
		*diffs = append(*diffs, DiffEntry{Path: path, OldHash: oc.Hash, NewHash: nc.Hash, Kind: nc.Kind})
	}
	for path, nc := range newMap {
		if _, ok := oldMap[path]; ok {
			continue
		}
		if nc.Kind == EntryDir {
			if err := collectAllUnder(nodes, nc.Hash, diffs, false); err != nil {
				return err
			}
			continue
		}
		*diffs = append(*diffs, DiffEntry{Path: path, NewHash: nc.Hash, Kind: nc.Kind})
	}
	return nil
}

// collectAllUnder adds every leaf under a whole-subtree add/remove as an
// individual DiffEntry (asOld selects which side of DiffEntry gets the
// hash).
func collectAllUnder(nodes *NodeStore, root ohash.Hash128, diffs *[]DiffEntry, asOld bool) error {
	leaves, err := ListAll(nodes, root)
	if err != nil {
		return err
	}
	for _, c := range leaves {
		if asOld {
			*diffs = append(*diffs, DiffEntry{Path: c.FullPath, OldHash: c.Hash, Kind: c.Kind})
		} else {
			*diffs = append(*diffs, DiffEntry{Path: c.FullPath, NewHash: c.Hash, Kind: c.Kind})
		}
	}
	return nil
}

// NormalizePath converts a filesystem path into the repo-relative,
// forward-slash form used as the canonical path in every tree node.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
