package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

func fileEntry(p string, content string) FileEntry {
	return FileEntry{Path: p, File: &File{ContentHash: ohash.HashBytes([]byte(content)), Size: int64(len(content))}}
}

func TestBuildTreeLookupRoundTrip(t *testing.T) {
	n := newTestNodeStore(t)
	files := []FileEntry{
		fileEntry("a.txt", "aaa"),
		fileEntry("dir/b.txt", "bbb"),
		fileEntry("dir/nested/c.txt", "ccc"),
	}
	root, err := BuildTree(n, files)
	require.NoError(t, err)
	assert.False(t, root.IsZero())

	child, err := Lookup(n, root, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, "a.txt", child.FullPath)
	assert.Equal(t, EntryFile, child.Kind)

	child, err = Lookup(n, root, "dir/nested/c.txt")
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, "dir/nested/c.txt", child.FullPath)
}

func TestLookupMissingPath(t *testing.T) {
	n := newTestNodeStore(t)
	root, err := BuildTree(n, []FileEntry{fileEntry("a.txt", "aaa")})
	require.NoError(t, err)

	child, err := Lookup(n, root, "nope.txt")
	require.NoError(t, err)
	assert.Nil(t, child)
}

func TestListAllFlattensHierarchy(t *testing.T) {
	n := newTestNodeStore(t)
	files := []FileEntry{
		fileEntry("a.txt", "aaa"),
		fileEntry("dir/b.txt", "bbb"),
		fileEntry("dir/nested/c.txt", "ccc"),
	}
	root, err := BuildTree(n, files)
	require.NoError(t, err)

	all, err := ListAll(n, root)
	require.NoError(t, err)
	require.Len(t, all, 3)
	paths := []string{all[0].FullPath, all[1].FullPath, all[2].FullPath}
	assert.Contains(t, paths, "a.txt")
	assert.Contains(t, paths, "dir/b.txt")
	assert.Contains(t, paths, "dir/nested/c.txt")
}

func TestBuildTreeDeterministic(t *testing.T) {
	n1 := newTestNodeStore(t)
	n2 := newTestNodeStore(t)
	files := []FileEntry{
		fileEntry("a.txt", "aaa"),
		fileEntry("dir/b.txt", "bbb"),
	}
	root1, err := BuildTree(n1, files)
	require.NoError(t, err)
	root2, err := BuildTree(n2, files)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
}

func TestDiffTreesDetectsAddedChangedRemoved(t *testing.T) {
	n := newTestNodeStore(t)
	oldRoot, err := BuildTree(n, []FileEntry{
		fileEntry("a.txt", "aaa"),
		fileEntry("removed.txt", "gone"),
	})
	require.NoError(t, err)
	newRoot, err := BuildTree(n, []FileEntry{
		fileEntry("a.txt", "changed"),
		fileEntry("added.txt", "new"),
	})
	require.NoError(t, err)

	diffs, err := DiffTrees(n, oldRoot, newRoot)
	require.NoError(t, err)

	byPath := make(map[string]DiffEntry)
	for _, d := range diffs {
		byPath[d.Path] = d
	}
	require.Contains(t, byPath, "a.txt")
	assert.False(t, byPath["a.txt"].OldHash.IsZero())
	assert.False(t, byPath["a.txt"].NewHash.IsZero())

	require.Contains(t, byPath, "added.txt")
	assert.True(t, byPath["added.txt"].OldHash.IsZero())

	require.Contains(t, byPath, "removed.txt")
	assert.True(t, byPath["removed.txt"].NewHash.IsZero())
}

func TestDiffTreesIdenticalRootsYieldNoDiffs(t *testing.T) {
	n := newTestNodeStore(t)
	root, err := BuildTree(n, []FileEntry{fileEntry("a.txt", "aaa")})
	require.NoError(t, err)

	diffs, err := DiffTrees(n, root, root)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestNormalizePathConvertsBackslashes(t *testing.T) {
	assert.Equal(t, "dir/file.txt", NormalizePath(`dir\file.txt`))
}
