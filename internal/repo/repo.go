// Package repo owns the on-disk repository layout and wires together the
// lower-level packages (objects, kvstore, commitgraph, refs) into a
// single handle used by the staging, commit, merge, and sync layers.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/kvstore"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/refs"
)

// DirName is the repository metadata directory, analogous to the
// ".git"/".vec" directories other VCSes keep at the working tree root.
const DirName = ".oxen"

// RemoteEntry is one entry of config.toml's remotes list.
type RemoteEntry struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Config is the repository-local config.toml: working tree path, the
// configured remotes, and which one is the default.
type Config struct {
	Path       string        `toml:"path"`
	Remotes    []RemoteEntry `toml:"remotes"`
	RemoteName string        `toml:"remote_name"`
}

func (c *Config) findRemote(name string) (*RemoteEntry, int) {
	for i := range c.Remotes {
		if c.Remotes[i].Name == name {
			return &c.Remotes[i], i
		}
	}
	return nil, -1
}

// SetRemote adds or updates a remote entry.
func (c *Config) SetRemote(name, url string) {
	if r, _ := c.findRemote(name); r != nil {
		r.URL = url
		return
	}
	c.Remotes = append(c.Remotes, RemoteEntry{Name: name, URL: url})
}

// DeleteRemote removes a remote entry by name.
func (c *Config) DeleteRemote(name string) error {
	_, idx := c.findRemote(name)
	if idx < 0 {
		return fmt.Errorf("remote %q does not exist", name)
	}
	c.Remotes = append(c.Remotes[:idx], c.Remotes[idx+1:]...)
	if c.RemoteName == name {
		c.RemoteName = ""
	}
	return nil
}

// RemoteURL looks up a remote's URL by name.
func (c *Config) RemoteURL(name string) (string, bool) {
	r, _ := c.findRemote(name)
	if r == nil {
		return "", false
	}
	return r.URL, true
}

// TokenEntry is one entry of user_config.toml's tokens list.
type TokenEntry struct {
	Host  string `toml:"host"`
	Token string `toml:"token"`
}

// UserConfig is the process-wide ~/.oxen/user_config.toml.
type UserConfig struct {
	Name        string       `toml:"name"`
	Email       string       `toml:"email"`
	Tokens      []TokenEntry `toml:"tokens"`
	DefaultHost string       `toml:"default_host"`
}

// TokenFor returns the auth token configured for host, if any.
func (u *UserConfig) TokenFor(host string) (string, bool) {
	for _, t := range u.Tokens {
		if t.Host == host {
			return t.Token, true
		}
	}
	return "", false
}

// SetToken adds or replaces the token for host.
func (u *UserConfig) SetToken(host, token string) {
	for i := range u.Tokens {
		if u.Tokens[i].Host == host {
			u.Tokens[i].Token = token
			return
		}
	}
	u.Tokens = append(u.Tokens, TokenEntry{Host: host, Token: token})
}

// UserConfigPath resolves ~/.oxen/user_config.toml, honoring the
// OXEN_HOME environment override.
func UserConfigPath() (string, error) {
	home := os.Getenv("OXEN_HOME")
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		home = filepath.Join(h, ".oxen")
	}
	return filepath.Join(home, "user_config.toml"), nil
}

// LoadUserConfig reads the user config, returning a zero-value config if
// the file does not yet exist.
func LoadUserConfig() (*UserConfig, error) {
	path, err := UserConfigPath()
	if err != nil {
		return nil, err
	}
	var cfg UserConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the user config to ~/.oxen/user_config.toml.
func (u *UserConfig) Save() error {
	path, err := UserConfigPath()
	if err != nil {
		return err
	}
	return writeTOML(path, u)
}

func writeTOML(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// Repository is an opened oxen repository: the working tree root plus
// handles to every lower-level subsystem.
type Repository struct {
	Root    string // working tree root (parent of .oxen)
	OxenDir string

	Config *Config

	Objects *objects.Store
	Nodes   *objects.NodeStore
	Commits *commitgraph.Graph
	Refs    *refs.Manager
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDirExists creates path (and parents) if it does not already exist.
func EnsureDirExists(path string) error {
	if FileExists(path) {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// FindRoot searches upward from the current directory for a .oxen
// directory, honoring an OXEN_REPOSITORY_PATH override if set.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	if forced := os.Getenv("OXEN_REPOSITORY_PATH"); forced != "" {
		if FileExists(filepath.Join(forced, DirName)) {
			return forced, nil
		}
		return "", fmt.Errorf("OXEN_REPOSITORY_PATH is set to %q but no repository found there", forced)
	}
	start := dir
	for {
		if FileExists(filepath.Join(dir, DirName)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not an oxen repository (or any of the parent directories): %s", start)
		}
		dir = parent
	}
}

// Init creates a new repository at root, writing the full .oxen layout
// and an initial empty "main" branch as HEAD.
func Init(root string) (*Repository, error) {
	oxenDir := filepath.Join(root, DirName)
	if FileExists(oxenDir) {
		return nil, fmt.Errorf("repository already exists at %s", oxenDir)
	}
	for _, d := range []string{
		"objects/dirs", "objects/vnodes", "objects/files", "objects/schemas",
		"refs", "locks", "commits", "history", "staged/dirs", "merge/conflicts",
	} {
		if err := EnsureDirExists(filepath.Join(oxenDir, d)); err != nil {
			return nil, err
		}
	}

	cfg := &Config{Path: root}
	if err := writeTOML(filepath.Join(oxenDir, "config.toml"), cfg); err != nil {
		return nil, err
	}

	r := &Repository{Root: root, OxenDir: oxenDir, Config: cfg}
	r.Objects = objects.NewStore(oxenDir)
	r.Nodes = objects.NewNodeStore(filepath.Join(oxenDir, "objects"))
	r.Refs = refs.New(oxenDir)

	commits, err := commitgraph.Open(filepath.Join(oxenDir, "commits", "db"))
	if err != nil {
		return nil, err
	}
	r.Commits = commits

	if err := r.Refs.SetHeadBranch("main"); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository, searching upward from the current
// directory if root is empty.
func Open(root string) (*Repository, error) {
	if root == "" {
		found, err := FindRoot()
		if err != nil {
			return nil, err
		}
		root = found
	}
	oxenDir := filepath.Join(root, DirName)
	if !FileExists(oxenDir) {
		return nil, fmt.Errorf("not an oxen repository: %s", root)
	}

	var cfg Config
	cfgPath := filepath.Join(oxenDir, "config.toml")
	if FileExists(cfgPath) {
		if _, err := toml.DecodeFile(cfgPath, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", cfgPath, err)
		}
	} else {
		cfg.Path = root
	}

	r := &Repository{Root: root, OxenDir: oxenDir, Config: &cfg}
	r.Objects = objects.NewStore(oxenDir)
	r.Nodes = objects.NewNodeStore(filepath.Join(oxenDir, "objects"))
	r.Refs = refs.New(oxenDir)

	commits, err := commitgraph.Open(filepath.Join(oxenDir, "commits", "db"))
	if err != nil {
		return nil, err
	}
	r.Commits = commits
	return r, nil
}

// Close releases every open handle.
func (r *Repository) Close() error {
	if r.Commits != nil {
		return r.Commits.Close()
	}
	return nil
}

// SaveConfig persists the repository config.toml.
func (r *Repository) SaveConfig() error {
	return writeTOML(filepath.Join(r.OxenDir, "config.toml"), r.Config)
}

// HistoryDir returns .oxen/history/<commit-id>.
func (r *Repository) HistoryDir(commit string) string {
	return filepath.Join(r.OxenDir, "history", commit)
}

// StagedDir returns .oxen/staged.
func (r *Repository) StagedDir() string {
	return filepath.Join(r.OxenDir, "staged")
}

// OpenKV opens a named KV store under the .oxen directory.
func (r *Repository) OpenKV(relPath string) (*kvstore.Store, error) {
	return kvstore.Open(filepath.Join(r.OxenDir, relPath))
}

// shallowMarkerPath is the on-disk flag for the "shallow clone" state:
// present while the repo has the full commit DAG but no content blocks
// for its current branch.
func (r *Repository) shallowMarkerPath() string {
	return filepath.Join(r.OxenDir, "SHALLOW")
}

// IsShallow reports whether this repository is in shallow-clone state.
// Mutating commands (status, add) refuse while it is set.
func (r *Repository) IsShallow() bool {
	return FileExists(r.shallowMarkerPath())
}

// SetShallow marks or clears the shallow-clone state.
func (r *Repository) SetShallow(shallow bool) error {
	if !shallow {
		err := os.Remove(r.shallowMarkerPath())
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(r.shallowMarkerPath(), []byte("1"), 0o644)
}

// ErrShallowClone is returned by commands that require full content
// (status, add) when the repository is still shallow.
type ErrShallowClone struct{}

func (e *ErrShallowClone) Error() string {
	return "repository is a shallow clone; run `oxen pull` to materialize content before this operation"
}
