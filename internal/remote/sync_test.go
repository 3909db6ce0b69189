package remote

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/server"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

func startSyncServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := server.New(server.Options{ReposDir: t.TempDir()})
	require.NoError(t, s.Init())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop(context.Background())
	})
	return ts
}

func initRepoWithFile(t *testing.T, rel, content string) (*repo.Repository, *staging.Manager, *commitwriter.Writer) {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	sm := staging.New(r)
	t.Cleanup(func() { sm.Close() })
	w := commitwriter.New(r, sm)
	commitFile(t, r, sm, w, rel, content)
	return r, sm, w
}

func commitFile(t *testing.T, r *repo.Repository, sm *staging.Manager, w *commitwriter.Writer, rel, content string) {
	t.Helper()
	full := filepath.Join(r.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	var root ohash.Hash128
	if id, ok, err := r.Refs.HeadCommit(); err == nil && ok {
		if c, found, err := r.Commits.Get(id); err == nil && found {
			root = c.RootTreeHash
		}
	}
	require.NoError(t, sm.Add(rel, root))
	_, err := w.Commit("add "+rel, "tester", "tester@example.com", nil)
	require.NoError(t, err)
}

// TestPushClonePushPull walks the two-user scenario: user A pushes,
// user B clones and pushes a second file, user A pulls and ends up with
// both files and a clean status.
func TestPushClonePushPull(t *testing.T) {
	ts := startSyncServer(t)
	ref := RemoteRef{BaseURL: ts.URL, Namespace: "acme", Name: "data"}
	ctx := context.Background()

	repoA, smA, wA := initRepoWithFile(t, "a.txt", "A")
	clientA := NewClient(ref, nil)
	require.NoError(t, Push(ctx, repoA, clientA, "main", PushOptions{}))

	repoB, err := Clone(ctx, t.TempDir()+"/clone", ref, nil, "main", PullOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { repoB.Close() })

	got, err := os.ReadFile(filepath.Join(repoB.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))

	headA, _, err := repoA.Refs.GetBranch("main")
	require.NoError(t, err)
	headB, _, err := repoB.Refs.GetBranch("main")
	require.NoError(t, err)
	assert.Equal(t, headA, headB, "cloned branch must point at the pushed head")

	smB := staging.New(repoB)
	t.Cleanup(func() { smB.Close() })
	wB := commitwriter.New(repoB, smB)
	commitFile(t, repoB, smB, wB, "b.txt", "B")
	clientB := NewClient(ref, nil)
	require.NoError(t, Push(ctx, repoB, clientB, "main", PushOptions{}))

	oldHeadCommit, _, err := repoA.Commits.Get(headA)
	require.NoError(t, err)
	require.NoError(t, Pull(ctx, repoA, clientA, "main", PullOptions{}))

	newHead, _, err := repoA.Refs.GetBranch("main")
	require.NoError(t, err)
	newHeadCommit, ok, err := repoA.Commits.Get(newHead)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, newHeadCommit.ParentIDs, 1)
	assert.Equal(t, headA, newHeadCommit.ParentIDs[0])

	require.NoError(t, wA.Materialize(oldHeadCommit.RootTreeHash, newHeadCommit.RootTreeHash))

	got, err = os.ReadFile(filepath.Join(repoA.Root, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(got))

	status, err := smA.Status(newHeadCommit.RootTreeHash, nil)
	require.NoError(t, err)
	assert.True(t, status.IsClean())
}

// TestPushLockedBranch checks that a second pusher is refused while the
// branch lock is held.
func TestPushLockedBranch(t *testing.T) {
	ts := startSyncServer(t)
	ref := RemoteRef{BaseURL: ts.URL, Namespace: "acme", Name: "data"}
	ctx := context.Background()

	repoA, _, _ := initRepoWithFile(t, "a.txt", "A")
	client := NewClient(ref, nil)

	require.NoError(t, client.LockBranch(ctx, "main"))
	err := Push(ctx, repoA, client, "main", PushOptions{})
	require.Error(t, err)
	var locked *ErrRemoteBranchLocked
	assert.ErrorAs(t, err, &locked)

	require.NoError(t, client.UnlockBranch(ctx, "main"))
	assert.NoError(t, Push(ctx, repoA, client, "main", PushOptions{}))
}

// TestShallowCloneThenPull checks the shallow invariant: the DAG is
// present, mutating commands refuse, and a pull materializes the head's
// content.
func TestShallowCloneThenPull(t *testing.T) {
	ts := startSyncServer(t)
	ref := RemoteRef{BaseURL: ts.URL, Namespace: "acme", Name: "data"}
	ctx := context.Background()

	repoA, _, _ := initRepoWithFile(t, "a.txt", "A")
	client := NewClient(ref, nil)
	require.NoError(t, Push(ctx, repoA, client, "main", PushOptions{}))

	repoB, err := Clone(ctx, t.TempDir()+"/shallow", ref, nil, "main", PullOptions{Shallow: true})
	require.NoError(t, err)
	t.Cleanup(func() { repoB.Close() })

	assert.True(t, repoB.IsShallow())
	head, ok, err := repoB.Refs.GetBranch("main")
	require.NoError(t, err)
	assert.True(t, ok)
	has, err := repoB.Commits.Has(head)
	require.NoError(t, err)
	assert.True(t, has, "shallow clone still carries the full commit DAG")
	_, err = os.Stat(filepath.Join(repoB.Root, "a.txt"))
	assert.True(t, os.IsNotExist(err), "shallow clone must not materialize content")

	sm := staging.New(repoB)
	t.Cleanup(func() { sm.Close() })
	_, err = sm.Status(ohash.Hash128{}, nil)
	require.Error(t, err)
	var shallow *repo.ErrShallowClone
	assert.ErrorAs(t, err, &shallow)

	clientB := NewClient(ref, nil)
	require.NoError(t, Pull(ctx, repoB, clientB, "main", PullOptions{}))
	require.NoError(t, repoB.SetShallow(false))

	headCommit, _, err := repoB.Commits.Get(head)
	require.NoError(t, err)
	w := commitwriter.New(repoB, sm)
	require.NoError(t, w.Materialize(ohash.Hash128{}, headCommit.RootTreeHash))
	got, err := os.ReadFile(filepath.Join(repoB.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(got))
}
