package commitwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

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

// TestAddCommitStatusClean checks that after add then commit, status is
// clean and the commit is recorded with the expected message.
func TestAddCommitStatusClean(t *testing.T) {
	r := newTestRepo(t)
	sm := staging.New(r)
	defer sm.Close()
	w := New(r, sm)

	writeFile(t, r, "hello.txt", "Hello")
	require.NoError(t, sm.Add("hello.txt", ohash.Hash128{}))

	staged, err := sm.AllStaged()
	require.NoError(t, err)
	require.Len(t, staged, 1)

	commitID, err := w.Commit("first", "tester", "tester@example.com", nil)
	require.NoError(t, err)
	assert.False(t, commitID.IsZero())

	commit, ok, err := r.Commits.Get(commitID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", commit.Message)

	status, err := sm.Status(commit.RootTreeHash, nil)
	require.NoError(t, err)
	assert.Empty(t, status.Staged)
	assert.Empty(t, status.Untracked)
	assert.Empty(t, status.Removed)
}

// TestCheckoutRoundTripsBytes checks that checking out a commit and
// reading a file yields the exact bytes add+commit stored, and that the
// stored hash matches the File node's hash.
func TestCheckoutRoundTripsBytes(t *testing.T) {
	r := newTestRepo(t)
	sm := staging.New(r)
	defer sm.Close()
	w := New(r, sm)

	writeFile(t, r, "data.txt", "version one")
	require.NoError(t, sm.Add("data.txt", ohash.Hash128{}))
	firstID, err := w.Commit("v1", "tester", "tester@example.com", nil)
	require.NoError(t, err)

	writeFile(t, r, "data.txt", "version two")
	require.NoError(t, sm.Add("data.txt", firstRoot(t, r, firstID)))
	secondID, err := w.Commit("v2", "tester", "tester@example.com", nil)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	require.NoError(t, w.Checkout(firstID.String(), false))
	got, err := os.ReadFile(filepath.Join(r.Root, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "version one", string(got))

	commit, _, err := r.Commits.Get(firstID)
	require.NoError(t, err)
	entry, err := objects.Lookup(r.Nodes, commit.RootTreeHash, "data.txt")
	require.NoError(t, err)
	fileNode, err := r.Nodes.GetFile(entry.Hash)
	require.NoError(t, err)
	assert.Equal(t, ohash.HashBytes([]byte("version one")), fileNode.ContentHash)

	require.NoError(t, w.Checkout(secondID.String(), false))
	got, err = os.ReadFile(filepath.Join(r.Root, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "version two", string(got))
}

func firstRoot(t *testing.T, r *repo.Repository, id ohash.Hash128) ohash.Hash128 {
	t.Helper()
	c, ok, err := r.Commits.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	return c.RootTreeHash
}

// TestCommitWithoutStagingFails checks that commit refuses when there is
// nothing staged and no merge in progress.
func TestCommitWithoutStagingFails(t *testing.T) {
	r := newTestRepo(t)
	sm := staging.New(r)
	defer sm.Close()
	w := New(r, sm)

	_, err := w.Commit("empty", "tester", "tester@example.com", nil)
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

// TestCheckoutRefusesUncommittedChanges checks that a modified-but-
// unstaged file aborts checkout.
func TestCheckoutRefusesUncommittedChanges(t *testing.T) {
	r := newTestRepo(t)
	sm := staging.New(r)
	defer sm.Close()
	w := New(r, sm)

	writeFile(t, r, "a.txt", "one")
	require.NoError(t, sm.Add("a.txt", ohash.Hash128{}))
	firstID, err := w.Commit("c1", "tester", "tester@example.com", nil)
	require.NoError(t, err)

	writeFile(t, r, "a.txt", "two")
	require.NoError(t, sm.Add("a.txt", firstRoot(t, r, firstID)))
	secondID, err := w.Commit("c2", "tester", "tester@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, w.Checkout(firstID.String(), false))
	writeFile(t, r, "a.txt", "locally-modified-unstaged")

	err = w.Checkout(secondID.String(), false)
	require.Error(t, err)
	var uerr *ErrUncommittedChanges
	assert.ErrorAs(t, err, &uerr)
	assert.Equal(t, "a.txt", uerr.Path)
}
