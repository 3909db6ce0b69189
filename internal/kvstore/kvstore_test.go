package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	v, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	_, ok, err = s.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Delete([]byte("a")))
	_, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, s.Delete([]byte("never-existed")))
}

func TestBatch(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("x"), []byte("old")))
	err = s.Batch(map[string][]byte{"a": []byte("1"), "b": []byte("2")}, [][]byte{[]byte("x")})
	require.NoError(t, err)

	_, ok, _ := s.Get([]byte("x"))
	assert.False(t, ok)
	v, ok, _ := s.Get([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestRangeOrderedScan(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}
	var keys []string
	err = s.Range(nil, nil, func(e Entry) error {
		keys = append(keys, string(e.Key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestRangeBounds(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}
	var keys []string
	err = s.Range([]byte("b"), []byte("d"), func(e Entry) error {
		keys = append(keys, string(e.Key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestScanPrefix(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"dir/a", "dir/b", "other/c"} {
		require.NoError(t, s.Put([]byte(k), []byte("v")))
	}
	var keys []string
	err = s.ScanPrefix([]byte("dir/"), func(e Entry) error {
		keys = append(keys, string(e.Key))
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dir/a", "dir/b"}, keys)
}

func TestCount(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
