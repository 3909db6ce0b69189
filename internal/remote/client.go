package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NahomAnteneh/oxen/internal/vlog"
)

const (
	userAgent       = "oxen-client/1"
	defaultTimeout  = 60 * time.Second
	ChunkSize       = 32 << 20 // 32 MiB per uploaded content chunk
	versionHeader   = "X-Oxen-Version"
	clientVersion   = "1"
)

// TokenProvider resolves the bearer token for a host, backed by
// repo.UserConfig.TokenFor in the CLI layer.
type TokenProvider func(host string) (string, bool)

// Client is a thin JSON/binary HTTP client for the sync protocol's wire
// endpoints.
type Client struct {
	http    *http.Client
	ref     RemoteRef
	token   TokenProvider
	retries uint64
}

// NewClient builds a Client for ref, optionally authenticating requests
// via tokens.
func NewClient(ref RemoteRef, tokens TokenProvider) *Client {
	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		ref:     ref,
		token:   tokens,
		retries: 5,
	}
}

func (c *Client) url(format string, a ...interface{}) string {
	base := strings.TrimRight(c.ref.BaseURL, "/")
	path := fmt.Sprintf(format, a...)
	return fmt.Sprintf("%s/repos/%s/%s%s", base, c.ref.Namespace, c.ref.Name, path)
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if tok, ok := c.token(req.URL.Host); ok && tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// do executes req with exponential-backoff retry on transient network
// errors and 5xx responses.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("User-Agent", userAgent)
		c.authorize(req)

		r, err := c.http.Do(req)
		if err != nil {
			return err // retryable: network error
		}
		if min := r.Header.Get(versionHeader); min != "" && min > clientVersion {
			r.Body.Close()
			return backoff.Permanent(&ErrUpdateRequired{MinVersion: min})
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(r.Body)
			r.Body.Close()
			return fmt.Errorf("server error %d: %s", r.StatusCode, string(body))
		}
		resp = r
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries)
	notify := func(err error, _ time.Duration) { logRetry("retrying request", err) }
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusAccepted {
		retryAfter := 5
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		resp.Body.Close()
		return &ErrQueueBackpressure{RetryAfterSeconds: retryAfter}
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return &ErrRepoNotFound{}
	}
	if resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		return &ErrRemoteBranchLocked{}
	}
	if resp.StatusCode >= 400 {
		var body struct {
			Status  string `json:"status"`
			Message string `json:"status_message"`
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		json.Unmarshal(data, &body)
		return &ErrServerRejected{StatusCode: resp.StatusCode, Status: body.Status, Message: body.Message}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, path, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postBinary(ctx context.Context, path string, data []byte) error {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) getBinary(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// RepoInfo is the response of the "Repo exists / head" endpoint.
type RepoInfo struct {
	Exists bool              `json:"exists"`
	Heads  map[string]string `json:"heads"` // branch -> commit id
}

func (c *Client) RepoHead(ctx context.Context) (RepoInfo, error) {
	var info RepoInfo
	err := c.getJSON(ctx, c.url(""), &info)
	return info, err
}

// CommitSummary is one entry of the "List commits" response. It carries
// the full commit metadata so a fetch can reconstruct the local commit
// record without a second round-trip per commit.
type CommitSummary struct {
	ID            string   `json:"id"`
	ParentIDs     []string `json:"parent_ids"`
	Message       string   `json:"message"`
	Author        string   `json:"author"`
	AuthorEmail   string   `json:"author_email"`
	TimestampUnix int64    `json:"timestamp_unix"`
	RootTreeHash  string   `json:"root_tree_hash"`
}

func (c *Client) CommitHistory(ctx context.Context, branch string) ([]CommitSummary, error) {
	var out []CommitSummary
	err := c.getJSON(ctx, c.url("/commits/%s/history", branch), &out)
	return out, err
}

// CommitMetaPayload is posted to create commit metadata remotely.
type CommitMetaPayload struct {
	ID            string   `json:"id"`
	ParentIDs     []string `json:"parent_ids"`
	Message       string   `json:"message"`
	Author        string   `json:"author"`
	AuthorEmail   string   `json:"author_email"`
	TimestampUnix int64    `json:"timestamp_unix"`
	RootTreeHash  string   `json:"root_tree_hash"`
}

func (c *Client) CreateCommitMeta(ctx context.Context, branch string, meta CommitMetaPayload) error {
	return c.postJSON(ctx, c.url("/commits?branch=%s", branch), meta, nil)
}

func (c *Client) UploadCommitTreeDB(ctx context.Context, commitID string, tarGz []byte) error {
	return c.postBinary(ctx, c.url("/commits/%s/commit_db", commitID), tarGz)
}

func (c *Client) UploadObjectsDB(ctx context.Context, tarGz []byte) error {
	return c.postBinary(ctx, c.url("/objects_db"), tarGz)
}

func (c *Client) UploadChunk(ctx context.Context, commitID, hashHex string, offset, total int64, data []byte) error {
	path := c.url("/commits/%s/upload_chunk?hash=%s&offset=%d&total=%d", commitID, hashHex, offset, total)
	return c.postBinary(ctx, path, data)
}

// Complete finalizes one pushed commit. The remote branch ref advances
// to commitID only here, never at meta/tree/chunk upload time.
func (c *Client) Complete(ctx context.Context, commitID, branch string) error {
	return c.postJSON(ctx, c.url("/commits/%s/complete?branch=%s", commitID, branch), nil, nil)
}

func (c *Client) LockBranch(ctx context.Context, branch string) error {
	err := c.postJSON(ctx, c.url("/branches/%s/lock", branch), nil, nil)
	var locked *ErrRemoteBranchLocked
	if isErrRemoteBranchLocked(err, &locked) {
		locked.Branch = branch
		return locked
	}
	return err
}

func (c *Client) UnlockBranch(ctx context.Context, branch string) error {
	return c.postJSON(ctx, c.url("/branches/%s/unlock", branch), nil, nil)
}

func isErrRemoteBranchLocked(err error, target **ErrRemoteBranchLocked) bool {
	e, ok := err.(*ErrRemoteBranchLocked)
	if !ok {
		return false
	}
	*target = e
	return true
}

// EntriesStatus answers "which hashes are missing" for a freshly uploaded
// commit tree.
func (c *Client) EntriesStatus(ctx context.Context, commitID string, hashes []string) (missing []string, err error) {
	path := c.url("/commits/%s/entries_status", commitID)
	var resp struct {
		Missing []string `json:"missing"`
	}
	err = c.postJSON(ctx, path, map[string][]string{"hashes": hashes}, &resp)
	return resp.Missing, err
}

func (c *Client) DownloadFile(ctx context.Context, commitID, relPath string) ([]byte, error) {
	return c.getBinary(ctx, c.url("/file/%s/%s", commitID, relPath))
}

func logRetry(msg string, err error) {
	vlog.L().Sugar().Debugf("%s: %v", msg, err)
}
