package repo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesLayoutAndHeadBranch(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, FileExists(filepath.Join(root, DirName)))
	assert.True(t, FileExists(filepath.Join(root, DirName, "refs")))
	assert.True(t, FileExists(filepath.Join(root, DirName, "objects", "dirs")))

	head, isBranch, err := r.Refs.Head()
	require.NoError(t, err)
	assert.True(t, isBranch)
	assert.Equal(t, "main", head)
}

func TestInitRefusesExisting(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	r.Close()

	_, err = Init(root)
	assert.Error(t, err)
}

func TestOpenFindsExistingRepo(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	r.Close()

	opened, err := Open(root)
	require.NoError(t, err)
	defer opened.Close()
	assert.Equal(t, root, opened.Root)
}

func TestOpenFailsWithoutRepo(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}

func TestConfigRemoteRoundTrip(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)

	r.Config.SetRemote("origin", "https://example.com/ns/repo")
	require.NoError(t, r.SaveConfig())
	require.NoError(t, r.Close())

	reopened, err := Open(root)
	require.NoError(t, err)
	defer reopened.Close()

	url, ok := reopened.Config.RemoteURL("origin")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/ns/repo", url)
}

func TestConfigDeleteRemoteClearsRemoteName(t *testing.T) {
	c := &Config{RemoteName: "origin"}
	c.SetRemote("origin", "https://example.com/a/b")
	require.NoError(t, c.DeleteRemote("origin"))
	assert.Empty(t, c.RemoteName)
	_, ok := c.RemoteURL("origin")
	assert.False(t, ok)
}

func TestShallowMarker(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.IsShallow())
	require.NoError(t, r.SetShallow(true))
	assert.True(t, r.IsShallow())
	require.NoError(t, r.SetShallow(false))
	assert.False(t, r.IsShallow())
}

func TestUserConfigTokenFor(t *testing.T) {
	u := &UserConfig{}
	u.SetToken("example.com", "tok-1")
	tok, ok := u.TokenFor("example.com")
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)

	u.SetToken("example.com", "tok-2")
	tok, ok = u.TokenFor("example.com")
	require.True(t, ok)
	assert.Equal(t, "tok-2", tok)
}
