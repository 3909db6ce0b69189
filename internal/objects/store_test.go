package objects

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir)
}

func TestWriteBytesDedup(t *testing.T) {
	s := newTestStore(t)
	h1, wrote1, err := s.WriteBytes([]byte("hello"), ".txt")
	require.NoError(t, err)
	assert.True(t, wrote1)

	h2, wrote2, err := s.WriteBytes([]byte("hello"), ".txt")
	require.NoError(t, err)
	assert.False(t, wrote2, "identical content must not be rewritten")
	assert.Equal(t, h1, h2)
}

func TestWriteBytesReadAllRoundTrip(t *testing.T) {
	s := newTestStore(t)
	h, _, err := s.WriteBytes([]byte("payload"), ".csv")
	require.NoError(t, err)

	data, err := s.ReadAll(h, ".csv")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.True(t, s.Has(h))
}

func TestStat(t *testing.T) {
	s := newTestStore(t)
	h, _, err := s.WriteBytes([]byte("12345"), ".bin")
	require.NoError(t, err)

	size, ext, ok := s.Stat(h)
	require.True(t, ok)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, ".bin", ext)
}

func TestWriteFileHardlinksOrCopies(t *testing.T) {
	s := newTestStore(t)
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "data.txt")
	require.NoError(t, os.WriteFile(src, []byte("file contents"), 0o644))

	h, wrote, err := s.WriteFile(src, ".txt")
	require.NoError(t, err)
	assert.True(t, wrote)

	data, err := s.ReadAll(h, ".txt")
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(data))

	_, wroteAgain, err := s.WriteFile(src, ".txt")
	require.NoError(t, err)
	assert.False(t, wroteAgain)
}

func TestHasMissing(t *testing.T) {
	s := newTestStore(t)
	h, _, err := s.WriteBytes([]byte("x"), "")
	require.NoError(t, err)
	assert.True(t, s.Has(h))

	missing, _, err := s.WriteBytes([]byte("y"), "")
	require.NoError(t, err)
	s2 := newTestStore(t)
	assert.False(t, s2.Has(missing))
}
