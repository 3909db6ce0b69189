package server

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
)

const branchLockTTL = 5 * time.Minute

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/repos/", s.routeRepos)
}

// routeRepos dispatches every /repos/{ns}/{name}/... request by
// matching the path segments that follow the repo identifier.
func (s *Server) routeRepos(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/repos/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "expected /repos/{ns}/{name}[...]")
		return
	}
	ns, name := parts[0], parts[1]
	tail := parts[2:]

	switch {
	case len(tail) == 0:
		s.handleRepoHead(w, r, ns, name)
	case len(tail) == 3 && tail[0] == "commits" && tail[2] == "history":
		s.handleCommitHistory(w, r, ns, name, tail[1])
	case len(tail) == 1 && tail[0] == "commits":
		s.handleCreateCommitMeta(w, r, ns, name)
	case len(tail) == 3 && tail[0] == "commits" && tail[2] == "commit_db":
		s.handleCommitTreeDB(w, r, ns, name, tail[1])
	case len(tail) == 1 && tail[0] == "objects_db":
		s.handleUploadObjectsDB(w, r, ns, name)
	case len(tail) == 3 && tail[0] == "commits" && tail[2] == "upload_chunk":
		s.handleUploadChunk(w, r, ns, name, tail[1])
	case len(tail) == 3 && tail[0] == "commits" && tail[2] == "complete":
		s.handleComplete(w, r, ns, name, tail[1])
	case len(tail) == 3 && tail[0] == "commits" && tail[2] == "entries_status":
		s.handleEntriesStatus(w, r, ns, name, tail[1])
	case len(tail) == 3 && tail[0] == "branches" && tail[2] == "lock":
		s.handleLockBranch(w, r, ns, name, tail[1])
	case len(tail) == 3 && tail[0] == "branches" && tail[2] == "unlock":
		s.handleUnlockBranch(w, r, ns, name, tail[1])
	case len(tail) >= 3 && tail[0] == "file":
		s.handleDownloadFile(w, r, ns, name, tail[1], filepath.Join(tail[2:]...))
	default:
		writeError(w, http.StatusNotFound, "no such route")
	}
}

func (s *Server) handleRepoHead(w http.ResponseWriter, r *http.Request, ns, name string) {
	if !s.repoExists(ns, name) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"exists": false})
		return
	}
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	branches, err := repository.Refs.ListBranches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	heads := make(map[string]string, len(branches))
	for _, b := range branches {
		if id, ok, err := repository.Refs.GetBranch(b); err == nil && ok {
			heads[b] = id.String()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"exists": true, "heads": heads})
}

func (s *Server) handleCommitHistory(w http.ResponseWriter, r *http.Request, ns, name, branch string) {
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	head, ok, err := repository.Refs.GetBranch(branch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	ancestors, err := repository.Commits.Ancestors(head)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type summary struct {
		ID            string   `json:"id"`
		ParentIDs     []string `json:"parent_ids"`
		Message       string   `json:"message"`
		Author        string   `json:"author"`
		AuthorEmail   string   `json:"author_email"`
		TimestampUnix int64    `json:"timestamp_unix"`
		RootTreeHash  string   `json:"root_tree_hash"`
	}
	out := make([]summary, 0, len(ancestors))
	for _, c := range ancestors {
		parents := make([]string, len(c.ParentIDs))
		for i, p := range c.ParentIDs {
			parents[i] = p.String()
		}
		out = append(out, summary{
			ID:            c.ID.String(),
			ParentIDs:     parents,
			Message:       c.Message,
			Author:        c.Author,
			AuthorEmail:   c.AuthorEmail,
			TimestampUnix: c.TimestampUnix,
			RootTreeHash:  c.RootTreeHash.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCommitMeta(w http.ResponseWriter, r *http.Request, ns, name string) {
	branch := r.URL.Query().Get("branch")
	if branch == "" {
		writeError(w, http.StatusBadRequest, "missing branch query parameter")
		return
	}
	var payload struct {
		ID            string   `json:"id"`
		ParentIDs     []string `json:"parent_ids"`
		Message       string   `json:"message"`
		Author        string   `json:"author"`
		AuthorEmail   string   `json:"author_email"`
		TimestampUnix int64    `json:"timestamp_unix"`
		RootTreeHash  string   `json:"root_tree_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id, err := ohash.ParseHash128(payload.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commit id: "+err.Error())
		return
	}
	root, err := ohash.ParseHash128(payload.RootTreeHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid root tree hash: "+err.Error())
		return
	}
	parents := make([]ohash.Hash128, 0, len(payload.ParentIDs))
	for _, p := range payload.ParentIDs {
		ph, err := ohash.ParseHash128(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid parent id: "+err.Error())
			return
		}
		parents = append(parents, ph)
	}

	commit := &commitgraph.Commit{
		ID:            id,
		ParentIDs:     parents,
		Message:       payload.Message,
		Author:        payload.Author,
		AuthorEmail:   payload.AuthorEmail,
		TimestampUnix: payload.TimestampUnix,
		RootTreeHash:  root,
	}
	if err := repository.Commits.Put(commit); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleCommitTreeDB serves both directions of the tree-KV transfer:
// POST extracts the client's gzipped tar into the objects tree, GET
// streams the repository's objects tree back for fetch/clone.
func (s *Server) handleCommitTreeDB(w http.ResponseWriter, r *http.Request, ns, name, commitID string) {
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	objectsDir := filepath.Join(repository.OxenDir, "objects")

	if r.Method == http.MethodGet {
		data, err := tarGzTree(objectsDir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to pack commit tree: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set(versionHeader, serverVersion)
		w.Write(data)
		return
	}

	if err := extractTarGz(r.Body, objectsDir); err != nil {
		writeError(w, http.StatusBadRequest, "failed to extract commit tree: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleUploadObjectsDB(w http.ResponseWriter, r *http.Request, ns, name string) {
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := extractTarGz(r.Body, filepath.Join(repository.OxenDir, "versions")); err != nil {
		writeError(w, http.StatusBadRequest, "failed to extract objects db: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request, ns, name, commitID string) {
	hashHex := r.URL.Query().Get("hash")
	offsetStr := r.URL.Query().Get("offset")
	totalStr := r.URL.Query().Get("total")
	if hashHex == "" || offsetStr == "" || totalStr == "" {
		writeError(w, http.StatusBadRequest, "missing hash/offset/total query parameters")
		return
	}
	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total")
		return
	}

	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stagingDir := filepath.Join(repository.OxenDir, "incoming", commitID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	partPath := filepath.Join(stagingDir, hashHex+".part")
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f.Close()
	_ = total // total is advisory here; assembleIncoming stores the content under its own computed hash
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, ns, name, commitID string) {
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := assembleIncoming(repository.Objects, filepath.Join(repository.OxenDir, "incoming", commitID)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to assemble content: "+err.Error())
		return
	}

	branch := r.URL.Query().Get("branch")
	if branch != "" {
		id, err := ohash.ParseHash128(commitID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid commit id")
			return
		}
		if err := repository.Refs.SetBranchHead(branch, id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.queue.Push(Task{
		RepoNamespace: ns,
		RepoName:      name,
		CommitID:      commitID,
		Branch:        branch,
		Kind:          TaskWarmCache,
	}); err != nil {
		if _, full := err.(*ErrQueueFull); full {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued_backpressure"})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleEntriesStatus(w http.ResponseWriter, r *http.Request, ns, name, commitID string) {
	var body struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var missing []string
	for _, hx := range body.Hashes {
		h, err := ohash.ParseHash128(hx)
		if err != nil {
			missing = append(missing, hx)
			continue
		}
		if !repository.Objects.Has(h) {
			missing = append(missing, hx)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"missing": missing})
}

func (s *Server) handleLockBranch(w http.ResponseWriter, r *http.Request, ns, name, branch string) {
	key := fmt.Sprintf("%s/%s/%s", ns, name, branch)
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if expiry, locked := s.locks[key]; locked && time.Now().Before(expiry) {
		writeError(w, http.StatusConflict, "branch is locked")
		return
	}
	s.locks[key] = time.Now().Add(branchLockTTL)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleUnlockBranch(w http.ResponseWriter, r *http.Request, ns, name, branch string) {
	key := fmt.Sprintf("%s/%s/%s", ns, name, branch)
	s.locksMu.Lock()
	delete(s.locks, key)
	s.locksMu.Unlock()
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request, ns, name, commitID, relPath string) {
	repository, err := s.openRepo(ns, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if commitID == "content" {
		h, err := ohash.ParseHash128(relPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid content hash")
			return
		}
		size, ext, ok := repository.Objects.Stat(h)
		if !ok {
			writeError(w, http.StatusNotFound, "content not found")
			return
		}
		f, err := repository.Objects.Open(h, ext)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer f.Close()
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Content-Type", "application/octet-stream")
		io.Copy(w, f)
		return
	}

	id, err := ohash.ParseHash128(commitID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commit id")
		return
	}
	commit, ok, err := repository.Commits.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "commit not found")
		return
	}
	entry, err := objects.Lookup(repository.Nodes, commit.RootTreeHash, relPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "path not found at commit: "+err.Error())
		return
	}
	fileNode, err := repository.Nodes.GetFile(entry.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	f, err := repository.Objects.Open(fileNode.ContentHash, fileNode.Ext)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	io.Copy(w, f)
}

// tarGzTree packs every regular file under root into a gzipped tar with
// root-relative paths, the body format of the tree/objects transfer
// endpoints.
func tarGzTree(root string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		hdr := &tar.Header{Name: filepath.ToSlash(rel), Mode: 0o644, Size: int64(len(data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func extractTarGz(body io.Reader, destRoot string) error {
	gr, err := gzip.NewReader(body)
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
}
