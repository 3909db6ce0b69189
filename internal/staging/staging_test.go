package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

// buildSingleFileTree writes a one-file Merkle tree with the given content
// hash already staged as an object, returning the tree's root hash.
func buildSingleFileTree(r *repo.Repository, relPath string, content []byte) (ohash.Hash128, error) {
	h := ohash.HashBytes(content)
	if _, _, err := r.Objects.WriteBytes(content, filepath.Ext(relPath)); err != nil {
		return ohash.Hash128{}, err
	}
	return objects.BuildTree(r.Nodes, []objects.FileEntry{
		{Path: relPath, File: &objects.File{ContentHash: h, Size: int64(len(content)), Ext: filepath.Ext(relPath)}},
	})
}

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeFile(t *testing.T, r *repo.Repository, rel, content string) {
	t.Helper()
	full := filepath.Join(r.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestPutGetClearStaged(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	entry := StagedEntry{Path: "a.txt", Hash: "deadbeef", Status: StatusAdded, EntryType: EntryRegular}
	require.NoError(t, m.PutStaged("a.txt", entry))

	got, ok, err := m.GetStaged("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, *got)

	require.NoError(t, m.ClearStaged("a.txt"))
	_, ok, err = m.GetStaged("a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllStagedAcrossDirectories(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	require.NoError(t, m.PutStaged("a.txt", StagedEntry{Path: "a.txt", Status: StatusAdded}))
	require.NoError(t, m.PutStaged("dir/b.txt", StagedEntry{Path: "dir/b.txt", Status: StatusAdded}))

	all, err := m.AllStaged()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a.txt", all[0].Path)
	assert.Equal(t, "dir/b.txt", all[1].Path)
}

func TestClearRemovesEverything(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	require.NoError(t, m.PutStaged("a.txt", StagedEntry{Path: "a.txt", Status: StatusAdded}))
	require.NoError(t, m.Clear())

	all, err := m.AllStaged()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddNewFileStagesAdded(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	writeFile(t, r, "new.txt", "hello")
	require.NoError(t, m.Add("new.txt", ohash.Hash128{}))

	got, ok, err := m.GetStaged("new.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusAdded, got.Status)
	assert.True(t, r.Objects.Has(ohash.HashBytes([]byte("hello"))))
}

func TestAddUnchangedContentAgainstHeadIsNoop(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	writeFile(t, r, "same.txt", "content")
	root, err := buildSingleFileTree(r, "same.txt", []byte("content"))
	require.NoError(t, err)

	require.NoError(t, m.PutStaged("same.txt", StagedEntry{Path: "same.txt", Status: StatusModified}))
	require.NoError(t, m.Add("same.txt", root))

	_, ok, err := m.GetStaged("same.txt")
	require.NoError(t, err)
	assert.False(t, ok, "add of content identical to HEAD should clear any staged entry")
}

func TestRmStagesRemovalAndDeletesFile(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	writeFile(t, r, "gone.txt", "bye")
	root, err := buildSingleFileTree(r, "gone.txt", []byte("bye"))
	require.NoError(t, err)

	require.NoError(t, m.Rm("gone.txt", false, false, root))

	got, ok, err := m.GetStaged("gone.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRemoved, got.Status)
	assert.NoFileExists(t, filepath.Join(r.Root, "gone.txt"))
}

func TestRmFileDoesNotExistInHead(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	err := m.Rm("nope.txt", false, false, ohash.Hash128{})
	var notExist *ErrFileDoesNotExist
	assert.ErrorAs(t, err, &notExist)
}

func TestStatusReportsUntrackedAndStaged(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()

	writeFile(t, r, "untracked.txt", "u")
	require.NoError(t, m.PutStaged("staged.txt", StagedEntry{Path: "staged.txt", Status: StatusAdded}))

	result, err := m.Status(ohash.Hash128{}, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Untracked, "untracked.txt")
	require.Len(t, result.Staged, 1)
	assert.Equal(t, "staged.txt", result.Staged[0].Path)
	assert.False(t, result.IsClean())
}

func TestStatusRefusesOnShallowClone(t *testing.T) {
	r := newTestRepo(t)
	m := New(r)
	defer m.Close()
	require.NoError(t, r.SetShallow(true))

	_, err := m.Status(ohash.Hash128{}, nil)
	var shallow *repo.ErrShallowClone
	assert.ErrorAs(t, err, &shallow)
}
