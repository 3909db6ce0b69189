package metacache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

func newTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// commitWithFiles stores each path's content and writes a commit whose
// tree holds all of them, returning the commit id.
func commitWithFiles(t *testing.T, r *repo.Repository, files map[string]string) ohash.Hash128 {
	t.Helper()
	entries := make([]objects.FileEntry, 0, len(files))
	for rel, content := range files {
		h, _, err := r.Objects.WriteBytes([]byte(content), filepath.Ext(rel))
		require.NoError(t, err)
		entries = append(entries, objects.FileEntry{
			Path: rel,
			File: &objects.File{ContentHash: h, Size: int64(len(content)), Ext: filepath.Ext(rel)},
		})
	}
	root, err := objects.BuildTree(r.Nodes, entries)
	require.NoError(t, err)

	commit := &commitgraph.Commit{
		ID:            ohash.HashBytes([]byte("test-commit")),
		Message:       "seed",
		Author:        "tester",
		TimestampUnix: 1700000000,
		RootTreeHash:  root,
	}
	require.NoError(t, r.Commits.Put(commit))
	return commit.ID
}

func TestWarmAndDirSize(t *testing.T) {
	r := newTestRepo(t)
	id := commitWithFiles(t, r, map[string]string{
		"train/a.png": "12345",
		"train/b.png": "123",
		"test/c.csv":  "x,y\n1,2\n",
		"README.md":   "hello",
	})

	c := New(r)
	require.NoError(t, c.Warm(id))

	size, err := c.DirSize(id, "train")
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)

	// The root aggregates every file.
	size, err = c.DirSize(id, "")
	require.NoError(t, err)
	assert.EqualValues(t, 8+8+5, size)
}

func TestDirSizeRecomputesOnMiss(t *testing.T) {
	r := newTestRepo(t)
	id := commitWithFiles(t, r, map[string]string{"data/a.txt": "abcdef"})

	// No Warm beforehand: the read miss triggers recomputation.
	size, err := New(r).DirSize(id, "data")
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)
}

func TestDFSizeRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	c := New(r)

	require.NoError(t, c.WriteDFSize("abc123", "train/boxes.csv", DFSize{Height: 42, Width: 7}))
	got, ok := c.ReadDFSize("abc123", "train/boxes.csv")
	require.True(t, ok)
	assert.Equal(t, DFSize{Height: 42, Width: 7}, got)

	_, ok = c.ReadDFSize("abc123", "other.csv")
	assert.False(t, ok)
}

func TestMimeBucket(t *testing.T) {
	assert.Equal(t, "image", mimeBucket("png"))
	assert.Equal(t, "tabular", mimeBucket("parquet"))
	assert.Equal(t, "text", mimeBucket("md"))
	assert.Equal(t, "other", mimeBucket("bin"))
}

func TestDirHelpers(t *testing.T) {
	assert.Equal(t, "train/images", dirOf("train/images/a.png"))
	assert.Equal(t, "", dirOf("a.png"))
	assert.Equal(t, "train", parentOf("train/images"))
	assert.Equal(t, "", parentOf("train"))
	assert.Equal(t, "_root", escapeDir(""))
	assert.Equal(t, "train__images", escapeDir("train/images"))
}
