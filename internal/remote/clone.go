package remote

import (
	"context"
	"fmt"

	"github.com/NahomAnteneh/oxen/internal/commitwriter"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
)

// Clone creates an empty local repository at root and fetches branch
// from ref, then materializes its head commit.
func Clone(ctx context.Context, root string, ref RemoteRef, tokens TokenProvider, branch string, opts PullOptions) (*repo.Repository, error) {
	r, err := repo.Init(root)
	if err != nil {
		return nil, fmt.Errorf("failed to init local repository: %w", err)
	}

	c := NewClient(ref, tokens)
	fetched, err := Fetch(ctx, r, c, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to clone: %w", err)
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("remote branch %s has no commits", branch)
	}
	head := fetched[len(fetched)-1].ID

	if err := r.Refs.CreateBranch(branch, head); err != nil {
		return nil, err
	}
	if err := r.Refs.SetHeadBranch(branch); err != nil {
		return nil, err
	}

	r.Config.SetRemote("origin", fmt.Sprintf("%s/%s/%s", ref.BaseURL, ref.Namespace, ref.Name))
	r.Config.RemoteName = "origin"
	if err := r.SaveConfig(); err != nil {
		return nil, err
	}

	if opts.Shallow {
		if err := r.SetShallow(true); err != nil {
			return nil, err
		}
		return r, nil
	}

	if err := DownloadContent(ctx, r, c, fetched, opts); err != nil {
		return nil, fmt.Errorf("failed to download clone content: %w", err)
	}

	headCommit, ok, err := r.Commits.Get(head)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cloned head commit %s missing", head)
	}
	sm := staging.New(r)
	writer := commitwriter.New(r, sm)
	if err := writer.Materialize(ohash.Hash128{}, headCommit.RootTreeHash); err != nil {
		return nil, fmt.Errorf("failed to materialize cloned working tree: %w", err)
	}

	return r, nil
}
