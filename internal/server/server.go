// Package server implements the HTTP side of the sync protocol's
// endpoint table plus the remote finalize queue.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/vlog"
)

const (
	DefaultPort     = 8080
	DefaultHost     = "0.0.0.0"
	DefaultReposDir = "./repositories"
	DefaultQueueCap = 1000

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 5 * time.Minute // large content uploads

	versionHeader = "X-Oxen-Version"
	serverVersion = "1"
)

// Options configures a Server.
type Options struct {
	Port        int
	Host        string
	ReposDir    string
	Verbose     bool
	TLSCertFile string
	TLSKeyFile  string
	QueueCap    int
}

// Server serves the sync protocol over HTTP and drains a finalize queue
// in the background.
type Server struct {
	Options Options

	router *http.ServeMux
	http   *http.Server

	reposMu sync.RWMutex
	repos   map[string]*repo.Repository // "ns/name" -> open repository

	locksMu sync.Mutex
	locks   map[string]time.Time // "ns/name/branch" -> lock expiry

	queue  *Queue
	worker *Worker
}

// New creates a Server with defaults applied for any zero-valued option.
func New(opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.ReposDir == "" {
		opts.ReposDir = DefaultReposDir
	}
	if opts.QueueCap == 0 {
		opts.QueueCap = DefaultQueueCap
	}
	return &Server{
		Options: opts,
		router:  http.NewServeMux(),
		repos:   make(map[string]*repo.Repository),
		locks:   make(map[string]time.Time),
	}
}

// Init creates the repositories directory, registers routes, opens the
// finalize queue, and starts its worker loop.
func (s *Server) Init() error {
	if err := os.MkdirAll(s.Options.ReposDir, 0o755); err != nil {
		return fmt.Errorf("failed to create repositories directory: %w", err)
	}

	q, err := NewQueue(filepath.Join(s.Options.ReposDir, ".queue"), s.Options.QueueCap)
	if err != nil {
		return err
	}
	s.queue = q
	s.worker = NewWorker(q, s.handleTask)
	go s.worker.Run()

	s.registerRoutes()
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.Options.Host, s.Options.Port),
		Handler:      s.logMiddleware(s.router),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
	}
	return nil
}

// Handler exposes the configured HTTP handler so tests and embedders can
// serve it without binding the listener. Valid only after Init.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	vlog.L().Sugar().Infof("oxen server listening on %s (repos=%s)", s.http.Addr, s.Options.ReposDir)
	var err error
	if s.Options.TLSCertFile != "" && s.Options.TLSKeyFile != "" {
		err = s.http.ListenAndServeTLS(s.Options.TLSCertFile, s.Options.TLSKeyFile)
	} else {
		err = s.http.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server and the queue worker down.
func (s *Server) Stop(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func repoKey(ns, name string) string { return ns + "/" + name }

func (s *Server) repoPath(ns, name string) string {
	return filepath.Join(s.Options.ReposDir, ns, name)
}

func (s *Server) repoExists(ns, name string) bool {
	_, err := os.Stat(filepath.Join(s.repoPath(ns, name), repo.DirName))
	return err == nil
}

// openRepo opens (and caches) the repository for ns/name, initializing
// it on first access if absent — the server auto-creates a bare-style
// repo the first time a client pushes to it.
func (s *Server) openRepo(ns, name string) (*repo.Repository, error) {
	key := repoKey(ns, name)

	s.reposMu.RLock()
	if r, ok := s.repos[key]; ok {
		s.reposMu.RUnlock()
		return r, nil
	}
	s.reposMu.RUnlock()

	s.reposMu.Lock()
	defer s.reposMu.Unlock()
	if r, ok := s.repos[key]; ok {
		return r, nil
	}

	path := s.repoPath(ns, name)
	var r *repo.Repository
	var err error
	if s.repoExists(ns, name) {
		r, err = repo.Open(path)
	} else {
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return nil, mkErr
		}
		r, err = repo.Init(path)
	}
	if err != nil {
		return nil, err
	}
	s.repos[key] = r
	return r, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(versionHeader, serverVersion)
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			vlog.L().Sugar().Errorf("failed to encode JSON response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"status":         http.StatusText(status),
		"status_message": msg,
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.Options.Verbose {
			vlog.L().Sugar().Debugf("%s %s in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}
