// Package objects implements the content-addressed object store and the
// Merkle tree index built on top of it.
package objects

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/oxen/internal/ohash"
)

// versionsDirName is the top-level directory holding content-addressed
// file bytes, laid out as versions/<H[0..2]>/<H[2..]>/data[.<ext>].
const versionsDirName = "versions"

// Store is the write-once, content-addressed file store.
type Store struct {
	root string // path to .oxen
}

// NewStore creates a Store rooted at the repository's .oxen directory.
func NewStore(oxenDir string) *Store {
	return &Store{root: oxenDir}
}

func (s *Store) dirFor(h ohash.Hash128) string {
	hex := h.String()
	return filepath.Join(s.root, versionsDirName, hex[:2], hex[2:])
}

// DataPath returns the path to the content file for hash h with the given
// extension (including the leading dot, or empty for none).
func (s *Store) DataPath(h ohash.Hash128, ext string) string {
	name := "data"
	if ext != "" {
		name += ext
	}
	return filepath.Join(s.dirFor(h), name)
}

// HashPath returns the path to the sibling HASH integrity file.
func (s *Store) HashPath(h ohash.Hash128) string {
	return filepath.Join(s.dirFor(h), "HASH")
}

// Has reports whether content for hash h is present locally, regardless of
// extension.
func (s *Store) Has(h ohash.Hash128) bool {
	entries, err := os.ReadDir(s.dirFor(h))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name() != "HASH" {
			return true
		}
	}
	return false
}

// Stat reports the size and stored extension for hash h without reading
// its content, used by the sync protocol's missing-hash queries and by
// diff/df summaries.
func (s *Store) Stat(h ohash.Hash128) (size int64, ext string, ok bool) {
	entries, err := os.ReadDir(s.dirFor(h))
	if err != nil {
		return 0, "", false
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == "HASH" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ext = e.Name()[len("data"):]
		return info.Size(), ext, true
	}
	return 0, "", false
}

// WriteBytes stores data under its content hash, returning the hash and
// whether it was newly written (false if already present — write-once
// dedup).
func (s *Store) WriteBytes(data []byte, ext string) (ohash.Hash128, bool, error) {
	h := ohash.HashBytes(data)
	if s.Has(h) {
		return h, false, nil
	}
	if err := s.writeAtomic(h, ext, data); err != nil {
		return h, false, err
	}
	return h, true, nil
}

// WriteFile hashes and stores the bytes of an existing file, preferring a
// hard link when src and the object store share a filesystem and falling
// back to a copy otherwise. ext should include the leading dot, or be
// empty.
func (s *Store) WriteFile(srcPath, ext string) (ohash.Hash128, bool, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return ohash.Hash128{}, false, fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	var h ohash.Hash128
	if info.Size() >= streamingThreshold {
		f, err := os.Open(srcPath)
		if err != nil {
			return ohash.Hash128{}, false, fmt.Errorf("failed to open %s: %w", srcPath, err)
		}
		h, err = ohash.HashStream(f)
		f.Close()
		if err != nil {
			return ohash.Hash128{}, false, fmt.Errorf("failed to hash %s: %w", srcPath, err)
		}
	} else {
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return ohash.Hash128{}, false, fmt.Errorf("failed to read %s: %w", srcPath, err)
		}
		h = ohash.HashBytes(data)
	}

	if s.Has(h) {
		return h, false, nil
	}

	dir := s.dirFor(h)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return h, false, fmt.Errorf("failed to create object directory %s: %w", dir, err)
	}
	dst := s.DataPath(h, ext)
	if err := os.Link(srcPath, dst); err != nil {
		if copyErr := copyFile(srcPath, dst); copyErr != nil {
			return h, false, fmt.Errorf("failed to materialize object %s: %w", h, copyErr)
		}
	}
	if err := os.WriteFile(s.HashPath(h), []byte(h.String()), 0o644); err != nil {
		return h, false, fmt.Errorf("failed to write integrity file for %s: %w", h, err)
	}
	return h, true, nil
}

// streamingThreshold is the size at which WriteFile hashes via a stream
// instead of reading the whole file into memory.
const streamingThreshold = 1 << 30

func (s *Store) writeAtomic(h ohash.Hash128, ext string, data []byte) error {
	dir := s.dirFor(h)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create object directory %s: %w", dir, err)
	}
	dst := s.DataPath(h, ext)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp object file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize object file: %w", err)
	}
	if err := os.WriteFile(s.HashPath(h), []byte(h.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write integrity file: %w", err)
	}
	return nil
}

// resolveDataPath finds the content file for h, preferring the caller's
// expected extension but falling back to whatever extension the content
// was stored under. Content identity is the hash alone; the extension is
// a tooling convenience, and sync paths (chunk reassembly, bulk content
// download) may store it without one.
func (s *Store) resolveDataPath(h ohash.Hash128, ext string) (string, error) {
	exact := s.DataPath(h, ext)
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	if _, storedExt, ok := s.Stat(h); ok {
		return s.DataPath(h, storedExt), nil
	}
	return "", fmt.Errorf("object not found: %s", h)
}

// Open opens the content for reading; the caller must close it.
func (s *Store) Open(h ohash.Hash128, ext string) (*os.File, error) {
	path, err := s.resolveDataPath(h, ext)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", h, err)
	}
	return f, nil
}

// ReadAll reads the full content for hash h with the given extension.
func (s *Store) ReadAll(h ohash.Hash128, ext string) ([]byte, error) {
	path, err := s.resolveDataPath(h, ext)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", h, err)
	}
	return data, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
