// Command oxen-server runs the HTTP sync endpoint and finalize queue
// worker, serving repositories rooted at SYNC_DIR.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/NahomAnteneh/oxen/internal/server"
	"github.com/NahomAnteneh/oxen/internal/vlog"
)

func main() {
	verbose := os.Getenv("OXEN_VERBOSE") != ""
	vlog.Init(verbose)
	defer vlog.Sync()

	opts := server.Options{
		ReposDir: os.Getenv("SYNC_DIR"),
		Verbose:  verbose,
	}
	if p := os.Getenv("OXEN_SERVER_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			opts.Port = port
		}
	}

	s := server.New(opts)
	if err := s.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "oxen-server: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "oxen-server: %v\n", err)
			os.Exit(1)
		}
	case <-sigCh:
		ctx, cancel := context.WithTimeout(context.Background(), server.WriteTimeout)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "oxen-server: shutdown error: %v\n", err)
			os.Exit(1)
		}
	}
}
