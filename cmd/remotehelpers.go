package cmd

import (
	"fmt"

	"github.com/NahomAnteneh/oxen/internal/remote"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

// resolveRemoteRef looks up the named remote (or the repo's default
// remote when name is empty) and parses it into a RemoteRef.
func resolveRemoteRef(r *repo.Repository, name string) (remote.RemoteRef, error) {
	if name == "" {
		name = r.Config.RemoteName
	}
	if name == "" {
		name = "origin"
	}
	url, ok := r.Config.RemoteURL(name)
	if !ok {
		return remote.RemoteRef{}, fmt.Errorf("%w: %s", remote.ErrNoRemoteConfigured, name)
	}
	return remote.ParseRemoteRef(url)
}

// remoteTokens adapts the user config's token list to remote.TokenProvider.
func remoteTokens() (remote.TokenProvider, error) {
	uc, err := repo.LoadUserConfig()
	if err != nil {
		return nil, err
	}
	return uc.TokenFor, nil
}

// currentBranchName resolves the checked-out branch, erroring in
// detached HEAD state since push/pull/fetch operate on branches.
func currentBranchName(r *repo.Repository) (string, error) {
	name, isBranch, err := r.Refs.Head()
	if err != nil {
		return "", err
	}
	if !isBranch {
		return "", fmt.Errorf("HEAD is detached; specify a branch explicitly")
	}
	return name, nil
}
