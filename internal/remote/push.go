package remote

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/vlog"
)

// PushOptions configures Push.
type PushOptions struct {
	// Concurrency bounds how many chunk uploads run in parallel.
	Concurrency int
}

// Push uploads every local commit on branch not yet known to the remote.
func Push(ctx context.Context, r *repo.Repository, c *Client, branch string, opts PushOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	if err := c.LockBranch(ctx, branch); err != nil {
		return fmt.Errorf("failed to lock remote branch %s: %w", branch, err)
	}
	defer func() {
		if err := c.UnlockBranch(ctx, branch); err != nil {
			vlog.L().Sugar().Warnf("failed to unlock remote branch %s: %v", branch, err)
		}
	}()

	localHead, ok, err := r.Refs.GetBranch(branch)
	if err != nil {
		return fmt.Errorf("failed to resolve local branch %s: %w", branch, err)
	}
	if !ok {
		return fmt.Errorf("local branch not found: %s", branch)
	}

	info, err := c.RepoHead(ctx)
	if err != nil {
		return fmt.Errorf("failed to query remote head: %w", err)
	}
	hasRemote := func(id ohash.Hash128) (bool, error) {
		for _, head := range info.Heads {
			if head == id.String() {
				return true, nil
			}
		}
		// Otherwise ask entries_status. That endpoint checks the remote's
		// content store, which never holds a commit id, so a commit that
		// is not a branch head is reported missing and uploaded again.
		var missing []string
		missing, err := c.EntriesStatus(ctx, id.String(), []string{id.String()})
		if err != nil {
			return false, err
		}
		return len(missing) == 0, nil
	}

	missing, err := r.Commits.MissingFromRemote(localHead, hasRemote)
	if err != nil {
		return fmt.Errorf("failed to enumerate missing commits: %w", err)
	}

	for _, commit := range missing {
		if err := pushOneCommit(ctx, r, c, branch, commit.ID, opts); err != nil {
			return fmt.Errorf("failed to push commit %s: %w", commit.ID, err)
		}
	}

	return nil
}

func pushOneCommit(ctx context.Context, r *repo.Repository, c *Client, branch string, id ohash.Hash128, opts PushOptions) error {
	commit, ok, err := r.Commits.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit %s not found", id)
	}

	if err := c.CreateCommitMeta(ctx, branch, CommitMetaPayload{
		ID:            commit.ID.String(),
		ParentIDs:     hashesToStrings(commit.ParentIDs),
		Message:       commit.Message,
		Author:        commit.Author,
		AuthorEmail:   commit.AuthorEmail,
		TimestampUnix: commit.TimestampUnix,
		RootTreeHash:  commit.RootTreeHash.String(),
	}); err != nil {
		return fmt.Errorf("failed to post commit meta: %w", err)
	}

	treeTar, err := tarGzDir(filepath.Join(r.OxenDir, "objects"))
	if err != nil {
		return err
	}
	if err := c.UploadCommitTreeDB(ctx, commit.ID.String(), treeTar); err != nil {
		return fmt.Errorf("failed to upload commit tree: %w", err)
	}

	entries, err := objects.ListAll(r.Nodes, commit.RootTreeHash)
	if err != nil {
		return err
	}
	var hashes []string
	for _, e := range entries {
		if e.Kind != objects.EntryDir {
			if fileNode, err := r.Nodes.GetFile(e.Hash); err == nil {
				hashes = append(hashes, fileNode.ContentHash.String())
			}
		}
	}

	objectsTar, err := tarGzDir(filepath.Join(r.OxenDir, "versions"))
	if err != nil {
		return err
	}
	if err := c.UploadObjectsDB(ctx, objectsTar); err != nil {
		return fmt.Errorf("failed to upload objects db: %w", err)
	}

	missingHashes, err := c.EntriesStatus(ctx, commit.ID.String(), hashes)
	if err != nil {
		return fmt.Errorf("failed to query missing hashes: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, h := range missingHashes {
		h := h
		g.Go(func() error {
			return uploadContent(gctx, r, c, commit.ID.String(), h)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to upload content: %w", err)
	}

	return c.Complete(ctx, commit.ID.String(), branch)
}

func uploadContent(ctx context.Context, r *repo.Repository, c *Client, commitID, hashHex string) error {
	h, err := ohash.ParseHash128(hashHex)
	if err != nil {
		return err
	}
	size, ext, ok := r.Objects.Stat(h)
	if !ok {
		return fmt.Errorf("content %s not found locally", hashHex)
	}
	rc, err := r.Objects.Open(h, ext)
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := make([]byte, ChunkSize)
	var offset int64
	for offset < size {
		n, err := rc.Read(buf)
		if n > 0 {
			if uploadErr := c.UploadChunk(ctx, commitID, hashHex, offset, size, buf[:n]); uploadErr != nil {
				return uploadErr
			}
			offset += int64(n)
		}
		if err != nil {
			break
		}
	}
	return nil
}

func hashesToStrings(hs []ohash.Hash128) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}
