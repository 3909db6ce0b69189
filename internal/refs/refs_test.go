package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

func hashOf(s string) ohash.Hash128 { return ohash.HashBytes([]byte(s)) }

func TestCreateAndGetBranch(t *testing.T) {
	m := New(t.TempDir())
	c1 := hashOf("commit1")
	require.NoError(t, m.CreateBranch("main", c1))

	got, ok, err := m.GetBranch("main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c1, got)
}

func TestCreateBranchRejectsDuplicate(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	err := m.CreateBranch("main", hashOf("c2"))
	var exists *ErrBranchExists
	assert.ErrorAs(t, err, &exists)
}

func TestSetBranchHeadMoves(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	require.NoError(t, m.SetBranchHead("main", hashOf("c2")))

	got, ok, err := m.GetBranch("main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hashOf("c2"), got)
}

func TestGetBranchMissing(t *testing.T) {
	m := New(t.TempDir())
	_, ok, err := m.GetBranch("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListBranches(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	require.NoError(t, m.CreateBranch("dev", hashOf("c2")))

	names, err := m.ListBranches()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "dev"}, names)
}

func TestRenameBranchPreservesCommitAndHead(t *testing.T) {
	m := New(t.TempDir())
	c1 := hashOf("c1")
	require.NoError(t, m.CreateBranch("main", c1))
	require.NoError(t, m.SetHeadBranch("main"))

	require.NoError(t, m.RenameBranch("main", "trunk"))

	got, ok, err := m.GetBranch("trunk")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c1, got)

	_, ok, err = m.GetBranch("main")
	require.NoError(t, err)
	assert.False(t, ok)

	head, isBranch, err := m.Head()
	require.NoError(t, err)
	assert.True(t, isBranch)
	assert.Equal(t, "trunk", head)
}

func TestDeleteBranchRefusesCurrent(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	require.NoError(t, m.SetHeadBranch("main"))

	err := m.DeleteBranch("main", true, nil)
	var cur *ErrCannotDeleteCurrent
	assert.ErrorAs(t, err, &cur)
}

func TestDeleteBranchRefusesUnmerged(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	require.NoError(t, m.CreateBranch("feature", hashOf("c2")))
	require.NoError(t, m.SetHeadBranch("main"))

	err := m.DeleteBranch("feature", false, func(string) (bool, error) { return false, nil })
	var unmerged *ErrNotFullyMerged
	assert.ErrorAs(t, err, &unmerged)
}

func TestDeleteBranchForceBypassesMergeCheck(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.CreateBranch("main", hashOf("c1")))
	require.NoError(t, m.CreateBranch("feature", hashOf("c2")))
	require.NoError(t, m.SetHeadBranch("main"))

	err := m.DeleteBranch("feature", true, func(string) (bool, error) { return false, nil })
	require.NoError(t, err)
	_, ok, _ := m.GetBranch("feature")
	assert.False(t, ok)
}

func TestHeadDetached(t *testing.T) {
	m := New(t.TempDir())
	c := hashOf("detached")
	require.NoError(t, m.SetHeadDetached(c))

	value, isBranch, err := m.Head()
	require.NoError(t, err)
	assert.False(t, isBranch)
	assert.Equal(t, c.String(), value)

	resolved, ok, err := m.HeadCommit()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c, resolved)
}

func TestHeadCommitFollowsBranch(t *testing.T) {
	m := New(t.TempDir())
	c := hashOf("c1")
	require.NoError(t, m.CreateBranch("main", c))
	require.NoError(t, m.SetHeadBranch("main"))

	resolved, ok, err := m.HeadCommit()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c, resolved)
}

func TestValidateBranchName(t *testing.T) {
	assert.NoError(t, ValidateBranchName("feature/x"))
	assert.Error(t, ValidateBranchName(""))
	assert.Error(t, ValidateBranchName("bad..name"))
	assert.Error(t, ValidateBranchName("has space"))
}

func TestLockUnlock(t *testing.T) {
	m := New(t.TempDir())
	c := hashOf("c1")
	require.NoError(t, m.Lock("main", c))

	err := m.Lock("main", c)
	var locked *ErrBranchLocked
	assert.ErrorAs(t, err, &locked)

	got, ok, err := m.LockedAt("main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c, got)

	require.NoError(t, m.Unlock("main"))
	_, ok, err = m.LockedAt("main")
	require.NoError(t, err)
	assert.False(t, ok)
}
