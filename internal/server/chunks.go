package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/NahomAnteneh/oxen/internal/objects"
)

// assembleIncoming moves every reassembled chunk upload under dir into
// the content-addressed object store, keyed by the hash of its
// reassembled bytes; the hash in its file name is not consulted.
func assembleIncoming(store *objects.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read incoming dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		partPath := filepath.Join(dir, e.Name())
		ext := filepath.Ext(strings.TrimSuffix(e.Name(), ".part"))
		if _, _, err := store.WriteFile(partPath, ext); err != nil {
			return fmt.Errorf("failed to store %s: %w", e.Name(), err)
		}
		os.Remove(partPath)
	}
	return os.Remove(dir)
}
