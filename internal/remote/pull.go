package remote

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/vlog"
)

// ProgressFunc reports bytes downloaded against an estimated total.
type ProgressFunc func(done, total int64)

// PullOptions configures Fetch/Pull/Clone.
type PullOptions struct {
	All         bool // download content for every reachable commit, not just the head
	Shallow     bool // skip content download entirely (clone only)
	Concurrency int
	Progress    ProgressFunc
}

func (o PullOptions) report(done, total int64) {
	if o.Progress != nil {
		o.Progress(done, total)
		return
	}
	vlog.L().Sugar().Debugf("pull progress: %d/%d bytes", done, total)
}

// Fetch downloads the commit DAG and tree KV for every commit reachable
// from branch that is not already present locally. It never touches the
// working tree.
func Fetch(ctx context.Context, r *repo.Repository, c *Client, branch string) ([]*commitgraph.Commit, error) {
	history, err := c.CommitHistory(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote commit history: %w", err)
	}

	order, err := topoSortParentFirst(history)
	if err != nil {
		return nil, err
	}

	var fetched []*commitgraph.Commit
	for _, summary := range order {
		id, err := ohash.ParseHash128(summary.ID)
		if err != nil {
			return nil, err
		}
		if ok, err := r.Commits.Has(id); err != nil {
			return nil, err
		} else if ok {
			continue
		}

		treeTar, err := c.getBinary(ctx, c.url("/commits/%s/commit_db", summary.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch commit tree for %s: %w", summary.ID, err)
		}
		if err := untarGz(filepath.Join(r.OxenDir, "objects"), treeTar); err != nil {
			return nil, err
		}

		root, err := ohash.ParseHash128(summary.RootTreeHash)
		if err != nil {
			return nil, fmt.Errorf("invalid root tree hash for commit %s: %w", summary.ID, err)
		}
		commit := &commitgraph.Commit{
			ID:            id,
			ParentIDs:     parseHashes(summary.ParentIDs),
			Message:       summary.Message,
			Author:        summary.Author,
			AuthorEmail:   summary.AuthorEmail,
			TimestampUnix: summary.TimestampUnix,
			RootTreeHash:  root,
		}
		// The commit becomes visible locally only now, after its tree KV
		// is fully extracted and every parent (earlier in topo order) is
		// already present.
		if err := r.Commits.Put(commit); err != nil {
			return nil, err
		}
		fetched = append(fetched, commit)
	}

	return fetched, nil
}

// Pull fetches, advances the local branch ref to the remote head, then
// downloads file content per opts. Content for the head commit is
// downloaded even when no new commits arrived, so a pull after a shallow
// clone has the head's files available to materialize. The working tree
// is not touched.
func Pull(ctx context.Context, r *repo.Repository, c *Client, branch string, opts PullOptions) error {
	if _, err := Fetch(ctx, r, c, branch); err != nil {
		return err
	}

	info, err := c.RepoHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to query remote head: %w", err)
	}
	headHex, ok := info.Heads[branch]
	if !ok {
		return fmt.Errorf("remote has no branch %s", branch)
	}
	head, err := ohash.ParseHash128(headHex)
	if err != nil {
		return fmt.Errorf("invalid remote head for %s: %w", branch, err)
	}
	if err := r.Refs.SetBranchHead(branch, head); err != nil {
		return err
	}

	var commits []*commitgraph.Commit
	if opts.All {
		commits, err = r.Commits.Ancestors(head)
		if err != nil {
			return err
		}
	} else {
		cm, present, err := r.Commits.Get(head)
		if err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("remote head %s not present after fetch", head)
		}
		commits = []*commitgraph.Commit{cm}
	}
	return DownloadContent(ctx, r, c, commits, opts)
}

// DownloadContent downloads file content for commits per opts, used by
// both Pull (after its own Fetch) and Clone (which fetches separately to
// resolve the branch head before downloading).
func DownloadContent(ctx context.Context, r *repo.Repository, c *Client, commits []*commitgraph.Commit, opts PullOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Shallow {
		return nil
	}

	if !opts.All && len(commits) > 0 {
		commits = commits[len(commits)-1:]
	}

	type pending struct {
		hash ohash.Hash128
		ext  string
		size int64
	}
	var missing []pending
	seen := make(map[ohash.Hash128]bool)
	for _, commit := range commits {
		entries, err := objects.ListAll(r.Nodes, commit.RootTreeHash)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Kind == objects.EntryDir {
				continue
			}
			fileNode, err := r.Nodes.GetFile(e.Hash)
			if err != nil {
				return err
			}
			if seen[fileNode.ContentHash] || r.Objects.Has(fileNode.ContentHash) {
				continue
			}
			seen[fileNode.ContentHash] = true
			missing = append(missing, pending{hash: fileNode.ContentHash, ext: fileNode.Ext, size: fileNode.Size})
		}
	}

	var done atomic.Int64
	var total int64
	for _, p := range missing {
		total += p.size
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, p := range missing {
		p := p
		g.Go(func() error {
			data, err := c.DownloadFile(gctx, "content", p.hash.String())
			if err != nil {
				return fmt.Errorf("failed to download content %s: %w", p.hash, err)
			}
			if _, _, err := r.Objects.WriteBytes(data, p.ext); err != nil {
				return err
			}
			opts.report(done.Add(int64(len(data))), total)
			return nil
		})
	}
	return g.Wait()
}

func topoSortParentFirst(history []CommitSummary) ([]CommitSummary, error) {
	byID := make(map[string]CommitSummary, len(history))
	for _, c := range history {
		byID[c.ID] = c
	}
	visited := make(map[string]bool, len(history))
	var order []CommitSummary
	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		c, ok := byID[id]
		if !ok {
			return nil // referenced but not part of this history page
		}
		visited[id] = true
		for _, p := range c.ParentIDs {
			if err := visit(p); err != nil {
				return err
			}
		}
		order = append(order, c)
		return nil
	}
	ids := make([]string, 0, len(history))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic traversal order
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func parseHashes(hexes []string) []ohash.Hash128 {
	out := make([]ohash.Hash128, 0, len(hexes))
	for _, h := range hexes {
		if id, err := ohash.ParseHash128(h); err == nil {
			out = append(out, id)
		}
	}
	return out
}
