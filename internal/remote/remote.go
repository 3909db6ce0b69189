// Package remote implements the sync protocol client: push, pull, fetch,
// and clone against a remote server's HTTP endpoints. Retries use
// cenkalti/backoff for transient network/5xx errors; chunk upload/
// download is bounded-concurrency via golang.org/x/sync/errgroup.
package remote

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrRemoteBranchLocked is returned when a push cannot acquire the
// remote branch lock (HTTP 409 on the lock endpoint).
type ErrRemoteBranchLocked struct {
	Branch string
}

func (e *ErrRemoteBranchLocked) Error() string {
	return fmt.Sprintf("remote branch locked: %s", e.Branch)
}

// ErrRepoNotFound is returned when the remote repository does not exist.
type ErrRepoNotFound struct {
	Namespace, Name string
}

func (e *ErrRepoNotFound) Error() string {
	return fmt.Sprintf("remote repository not found: %s/%s", e.Namespace, e.Name)
}

// ErrServerRejected wraps a non-2xx response whose body carried a JSON
// {status, status_message} payload.
type ErrServerRejected struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ErrServerRejected) Error() string {
	return fmt.Sprintf("remote rejected request (%d %s): %s", e.StatusCode, e.Status, e.Message)
}

// ErrQueueBackpressure is returned when the server's finalize queue is
// past its depth threshold; callers should retry after the duration
// named in the response's Retry-After header.
type ErrQueueBackpressure struct {
	RetryAfterSeconds int
}

func (e *ErrQueueBackpressure) Error() string {
	return fmt.Sprintf("remote finalize queue busy, retry after %ds", e.RetryAfterSeconds)
}

// ErrUpdateRequired is returned when the server's X-Oxen-Version header
// names a minimum client version newer than this build.
type ErrUpdateRequired struct {
	MinVersion string
}

func (e *ErrUpdateRequired) Error() string {
	return fmt.Sprintf("server requires client version >= %s; update oxen", e.MinVersion)
}

// ErrNoRemoteConfigured is returned by the CLI layer when a sync command
// is run without a configured remote and none is given explicitly.
var ErrNoRemoteConfigured = errors.New("no remote configured")

// RemoteRef identifies a repository addressed as namespace/name on a
// remote host.
type RemoteRef struct {
	BaseURL   string
	Namespace string
	Name      string
}

// ParseRemoteRef splits a remote URL of the form
// "https://host[:port]/{namespace}/{name}" into a RemoteRef.
func ParseRemoteRef(raw string) (RemoteRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("invalid remote url %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RemoteRef{}, fmt.Errorf("remote url %q must carry a /{namespace}/{name} path", raw)
	}
	namespace, name := parts[0], parts[1]
	base := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	return RemoteRef{BaseURL: base, Namespace: namespace, Name: name}, nil
}
