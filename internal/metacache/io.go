package metacache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
)

func mkdirAll(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory for %s: %w", filePath, err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// warmDFSizes is Warm's step for tabular (height, width) pairs. It writes
// nothing: a precise row/column count needs the tabular engine, and
// pairs enter the cache only through WriteDFSize below.
func (c *Cache) warmDFSizes(commit ohash.Hash128, entries []objects.VNodeChild) error {
	return nil
}

// WriteDFSize persists a precise (height, width) pair for a tabular file
// at the given commit.
func (c *Cache) WriteDFSize(commitID string, relPath string, size DFSize) error {
	path := filepath.Join(c.r.HistoryDir(commitID), "cache", "df_sizes", escapeDir(relPath))
	if err := mkdirAll(path); err != nil {
		return err
	}
	return writeFile(path, []byte(fmt.Sprintf("%d %d", size.Height, size.Width)))
}

// ReadDFSize reads a cached (height, width) pair; recomputing on a miss
// is the caller's responsibility.
func (c *Cache) ReadDFSize(commitID string, relPath string) (DFSize, bool) {
	path := filepath.Join(c.r.HistoryDir(commitID), "cache", "df_sizes", escapeDir(relPath))
	data, err := readFile(path)
	if err != nil {
		return DFSize{}, false
	}
	var h, w int64
	fmt.Sscanf(string(data), "%d %d", &h, &w)
	return DFSize{Height: h, Width: w}, true
}
