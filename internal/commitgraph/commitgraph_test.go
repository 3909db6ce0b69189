package commitgraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := Open(filepath.Join(t.TempDir(), "commits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func mkCommit(id string, parents ...ohash.Hash128) *Commit {
	return &Commit{
		ID:            ohash.HashBytes([]byte(id)),
		ParentIDs:     parents,
		Message:       "msg " + id,
		Author:        "alice",
		AuthorEmail:   "alice@example.com",
		TimestampUnix: 1000,
		RootTreeHash:  ohash.HashBytes([]byte("tree-" + id)),
	}
}

func TestPutGetCommit(t *testing.T) {
	g := newTestGraph(t)
	c := mkCommit("c1")
	require.NoError(t, g.Put(c))

	got, ok, err := g.Get(c.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.Message, got.Message)
	assert.Equal(t, c.Author, got.Author)
	assert.Equal(t, c.AuthorEmail, got.AuthorEmail)
	assert.Equal(t, c.TimestampUnix, got.TimestampUnix)
	assert.Equal(t, c.RootTreeHash, got.RootTreeHash)
}

func TestPutIsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	c := mkCommit("c1")
	require.NoError(t, g.Put(c))
	require.NoError(t, g.Put(c))

	has, err := g.Has(c.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestParentOrderPreserved(t *testing.T) {
	g := newTestGraph(t)
	p1 := mkCommit("p1")
	require.NoError(t, g.Put(p1))
	p2 := mkCommit("p2")
	require.NoError(t, g.Put(p2))

	// A merge commit's first parent is the pre-merge branch head; the
	// encoding must not reorder them.
	m := mkCommit("merge", p1.ID, p2.ID)
	require.NoError(t, g.Put(m))
	got, ok, err := g.Get(m.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []ohash.Hash128{p1.ID, p2.ID}, got.ParentIDs)
}

func TestAncestorsBFS(t *testing.T) {
	g := newTestGraph(t)
	root := mkCommit("root")
	require.NoError(t, g.Put(root))
	mid := mkCommit("mid", root.ID)
	require.NoError(t, g.Put(mid))
	leaf := mkCommit("leaf", mid.ID)
	require.NoError(t, g.Put(leaf))

	anc, err := g.Ancestors(leaf.ID)
	require.NoError(t, err)
	require.Len(t, anc, 3)
	ids := map[ohash.Hash128]bool{}
	for _, c := range anc {
		ids[c.ID] = true
	}
	assert.True(t, ids[root.ID])
	assert.True(t, ids[mid.ID])
	assert.True(t, ids[leaf.ID])
}

func TestIsAncestor(t *testing.T) {
	g := newTestGraph(t)
	root := mkCommit("root")
	require.NoError(t, g.Put(root))
	leaf := mkCommit("leaf", root.ID)
	require.NoError(t, g.Put(leaf))

	ok, err := g.IsAncestor(root.ID, leaf.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsAncestor(leaf.ID, root.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLowestCommonAncestor(t *testing.T) {
	g := newTestGraph(t)
	base := mkCommit("base")
	require.NoError(t, g.Put(base))
	a := mkCommit("a", base.ID)
	require.NoError(t, g.Put(a))
	b := mkCommit("b", base.ID)
	require.NoError(t, g.Put(b))

	lca, found, err := g.LowestCommonAncestor(a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, base.ID, lca)
}

func TestMissing(t *testing.T) {
	g := newTestGraph(t)
	c1 := mkCommit("c1")
	require.NoError(t, g.Put(c1))
	c2 := mkCommit("c2")

	missing, err := g.Missing([]ohash.Hash128{c1.ID, c2.ID})
	require.NoError(t, err)
	assert.Equal(t, []ohash.Hash128{c2.ID}, missing)
}

func TestMissingFromRemoteOrdersOldestFirst(t *testing.T) {
	g := newTestGraph(t)
	root := mkCommit("root")
	require.NoError(t, g.Put(root))
	mid := mkCommit("mid", root.ID)
	require.NoError(t, g.Put(mid))
	leaf := mkCommit("leaf", mid.ID)
	require.NoError(t, g.Put(leaf))

	remoteHas := map[ohash.Hash128]bool{root.ID: true}
	missing, err := g.MissingFromRemote(leaf.ID, func(id ohash.Hash128) (bool, error) {
		return remoteHas[id], nil
	})
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, mid.ID, missing[0].ID)
	assert.Equal(t, leaf.ID, missing[1].ID)
}
