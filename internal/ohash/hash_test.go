package ohash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	data := []byte("hello oxen")
	assert.Equal(t, HashBytes(data), HashBytes(data))
	assert.NotEqual(t, HashBytes(data), HashBytes([]byte("hello oxeN")))
}

func TestHashStreamMatchesHashBytes(t *testing.T) {
	data := bytes.Repeat([]byte("chunked content "), 4096)
	streamed, err := HashStream(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, HashBytes(data), streamed)
}

func TestParseHash128RoundTrip(t *testing.T) {
	h := HashBytes([]byte("round trip"))
	parsed, err := ParseHash128(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHash128RejectsBadLength(t *testing.T) {
	_, err := ParseHash128("deadbeef")
	assert.Error(t, err)
}

func TestPrefix(t *testing.T) {
	h := HashBytes([]byte("prefix me"))
	assert.Equal(t, h.String()[:2], h.Prefix(2))
	assert.Len(t, h.Prefix(2), 2)
}

func TestHashChildrenOrderSensitiveToLabel(t *testing.T) {
	h := HashBytes([]byte("content"))
	a := HashChildren([]ChildRef{{Label: "a.txt", Hash: h}})
	b := HashChildren([]ChildRef{{Label: "b.txt", Hash: h}})
	assert.NotEqual(t, a, b, "identical content under different paths must hash differently")
}

func TestHashCommitIndependentOfFileHashOrder(t *testing.T) {
	meta := CommitMeta{Message: "msg", Author: "a", Email: "a@b.com", TimestampUnix: 100, RootTreeHash: HashBytes([]byte("root"))}
	h1 := HashBytes([]byte("f1"))
	h2 := HashBytes([]byte("f2"))
	assert.Equal(t, HashCommit(meta, []Hash128{h1, h2}), HashCommit(meta, []Hash128{h2, h1}))
}

func TestHashCommitChangesWithFileSet(t *testing.T) {
	meta := CommitMeta{Message: "msg", Author: "a", Email: "a@b.com", TimestampUnix: 100, RootTreeHash: HashBytes([]byte("root"))}
	h1 := HashBytes([]byte("f1"))
	h2 := HashBytes([]byte("f2"))
	assert.NotEqual(t, HashCommit(meta, []Hash128{h1}), HashCommit(meta, []Hash128{h1, h2}))
}

func TestIsZero(t *testing.T) {
	var zero Hash128
	assert.True(t, zero.IsZero())
	assert.False(t, HashBytes([]byte("x")).IsZero())
}
