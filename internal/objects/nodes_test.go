package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

func newTestNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	return NewNodeStore(t.TempDir())
}

func TestPutGetFile(t *testing.T) {
	n := newTestNodeStore(t)
	f := &File{ContentHash: ohash.HashBytes([]byte("data")), Size: 4, MtimeSec: 100, MtimeNsec: 7, Ext: ".csv"}
	h, err := n.PutFile(f)
	require.NoError(t, err)

	got, err := n.GetFile(h)
	require.NoError(t, err)
	assert.Equal(t, f.ContentHash, got.ContentHash)
	assert.Equal(t, f.Size, got.Size)
	assert.Equal(t, f.MtimeSec, got.MtimeSec)
	assert.Equal(t, f.MtimeNsec, got.MtimeNsec)
	assert.Equal(t, f.Ext, got.Ext)
}

func TestFileHashChangesWithMtime(t *testing.T) {
	n := newTestNodeStore(t)
	base := ohash.HashBytes([]byte("data"))
	h1, err := n.PutFile(&File{ContentHash: base, Size: 4, MtimeSec: 1})
	require.NoError(t, err)
	h2, err := n.PutFile(&File{ContentHash: base, Size: 4, MtimeSec: 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestPutVNodeSortsByPath(t *testing.T) {
	n := newTestNodeStore(t)
	h1 := ohash.HashBytes([]byte("a"))
	h2 := ohash.HashBytes([]byte("b"))
	v := &VNode{Children: []VNodeChild{
		{FullPath: "z.txt", Hash: h2, Kind: EntryFile},
		{FullPath: "a.txt", Hash: h1, Kind: EntryFile},
	}}
	h, err := n.PutVNode(v)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", v.Children[0].FullPath)
	assert.Equal(t, "z.txt", v.Children[1].FullPath)

	got, err := n.GetVNode(h)
	require.NoError(t, err)
	assert.Len(t, got.Children, 2)
	assert.Equal(t, "a.txt", got.Children[0].FullPath)
}

func TestPutDirRoundTrip(t *testing.T) {
	n := newTestNodeStore(t)
	vh := ohash.HashBytes([]byte("vnode"))
	d := &Dir{Children: []DirChild{{Prefix: "ff", VNodeHash: vh}, {Prefix: "00", VNodeHash: vh}}}
	h, err := n.PutDir(d)
	require.NoError(t, err)
	assert.Equal(t, "00", d.Children[0].Prefix)

	got, err := n.GetDir(h)
	require.NoError(t, err)
	assert.Len(t, got.Children, 2)
}

func TestPutSchemaRoundTripWithMetadata(t *testing.T) {
	n := newTestNodeStore(t)
	s := &Schema{Fields: []Field{
		{Name: "id", Dtype: "int64", Metadata: map[string]string{"primary_key": "true"}},
		{Name: "label", Dtype: "string"},
	}}
	h, err := n.PutSchema(s)
	require.NoError(t, err)

	got, err := n.GetSchema(h)
	require.NoError(t, err)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, "id", got.Fields[0].Name)
	assert.Equal(t, "true", got.Fields[0].Metadata["primary_key"])
	assert.Equal(t, "label", got.Fields[1].Name)
}

func TestSchemaHashStableForIdenticalFields(t *testing.T) {
	s1 := &Schema{Fields: []Field{{Name: "a", Dtype: "string"}}}
	s2 := &Schema{Fields: []Field{{Name: "a", Dtype: "string"}}}
	assert.Equal(t, s1.hash(), s2.hash())
}

func TestNodeStoreHas(t *testing.T) {
	n := newTestNodeStore(t)
	h, err := n.PutFile(&File{ContentHash: ohash.HashBytes([]byte("x")), Size: 1})
	require.NoError(t, err)
	assert.True(t, n.Has(KindFile, h))
	assert.False(t, n.Has(KindDir, h))
}
