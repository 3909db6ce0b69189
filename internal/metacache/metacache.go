// Package metacache implements the per-commit metadata cache: cached
// directory size, latest-commit-in-dir, aggregated data-type counts, and
// cached tabular (height, width) pairs, all recomputed lazily on a
// read-miss and eagerly on commit finalize.
package metacache

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/NahomAnteneh/oxen/internal/commitgraph"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
)

// DirStats is the cached entry at history/<id>/cache/dirs/<dir>/...
type DirStats struct {
	TotalSize    int64
	LatestCommit ohash.Hash128
	DataTypes    map[string]int64 // extension -> count, the data_type.parquet aggregate
	MimeTypes    map[string]int64 // coarse mime bucket -> count
}

// DFSize is the cached (height, width) pair for a tabular file.
type DFSize struct {
	Height int64
	Width  int64
}

// Cache computes and serves per-commit metadata for repository r.
type Cache struct {
	r *repo.Repository
}

// New creates a Cache for r.
func New(r *repo.Repository) *Cache {
	return &Cache{r: r}
}

func (c *Cache) cacheDir(commit ohash.Hash128) string {
	return filepath.Join(c.r.HistoryDir(commit.String()), "cache")
}

// Warm computes and persists the per-dir cache entries for commit: total
// size, latest-commit, and aggregated data-type and mime-type counts.
// Tabular DF sizes are not computed here (see warmDFSizes).
// It is safe to call more than once; results are idempotent for a given
// commit (commits are immutable).
func (c *Cache) Warm(commit ohash.Hash128) error {
	cm, ok, err := c.r.Commits.Get(commit)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("commit not found: %s", commit)
	}

	entries, err := objects.ListAll(c.r.Nodes, cm.RootTreeHash)
	if err != nil {
		return err
	}

	perDir := make(map[string]*DirStats)
	ensure := func(dir string) *DirStats {
		s, ok := perDir[dir]
		if !ok {
			s = &DirStats{DataTypes: map[string]int64{}, MimeTypes: map[string]int64{}}
			perDir[dir] = s
		}
		return s
	}

	for _, e := range entries {
		if e.Kind == objects.EntryDir {
			continue
		}
		fileNode, err := c.r.Nodes.GetFile(e.Hash)
		if err != nil {
			return err
		}
		ext := strings.TrimPrefix(fileNode.Ext, ".")
		if ext == "" {
			ext = "unknown"
		}
		mime := mimeBucket(ext)

		for dir := dirOf(e.FullPath); ; dir = parentOf(dir) {
			s := ensure(dir)
			s.TotalSize += fileNode.Size
			s.DataTypes[ext]++
			s.MimeTypes[mime]++
			if latestIsNewer(c.r.Commits, s.LatestCommit, commit) {
				s.LatestCommit = commit
			}
			if dir == "" {
				break
			}
		}
	}

	for dir, stats := range perDir {
		if err := c.writeDirStats(commit, dir, stats); err != nil {
			return err
		}
	}

	return c.warmDFSizes(commit, entries)
}

func latestIsNewer(g *commitgraph.Graph, current, candidate ohash.Hash128) bool {
	if current.IsZero() {
		return true
	}
	cur, ok, err := g.Get(current)
	if err != nil || !ok {
		return true
	}
	cand, ok, err := g.Get(candidate)
	if err != nil || !ok {
		return false
	}
	return cand.TimestampUnix >= cur.TimestampUnix
}

func dirOf(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}

func parentOf(dir string) string {
	if dir == "" {
		return ""
	}
	p := path.Dir(dir)
	if p == "." {
		return ""
	}
	return p
}

func mimeBucket(ext string) string {
	switch ext {
	case "png", "jpg", "jpeg", "gif", "bmp", "tiff":
		return "image"
	case "wav", "mp3", "flac", "ogg":
		return "audio"
	case "mp4", "mov", "avi", "mkv":
		return "video"
	case "csv", "tsv", "json", "jsonl", "ndjson", "parquet":
		return "tabular"
	case "txt", "md":
		return "text"
	default:
		return "other"
	}
}

// writeDirStats persists a directory's aggregate counts, encoded as a
// tiny single-row-schema Parquet file per counted dimension
// (data_type.parquet and mime_type.parquet).
func (c *Cache) writeDirStats(commit ohash.Hash128, dir string, stats *DirStats) error {
	base := filepath.Join(c.cacheDir(commit), "dirs", escapeDir(dir))
	if err := writeSizeFile(filepath.Join(base, "size"), stats.TotalSize); err != nil {
		return err
	}
	if err := writeTextFile(filepath.Join(base, "latest_commit"), stats.LatestCommit.String()); err != nil {
		return err
	}
	if err := writeCountsParquet(filepath.Join(base, "data_type.parquet"), stats.DataTypes); err != nil {
		return err
	}
	return writeCountsParquet(filepath.Join(base, "mime_type.parquet"), stats.MimeTypes)
}

func escapeDir(dir string) string {
	if dir == "" {
		return "_root"
	}
	return strings.ReplaceAll(dir, "/", "__")
}

func writeSizeFile(path string, size int64) error {
	return writeTextFile(path, fmt.Sprintf("%d", size))
}

func writeTextFile(path, content string) error {
	if err := mkdirAll(path); err != nil {
		return err
	}
	return writeFile(path, []byte(content))
}

// writeCountsParquet writes a flat key/count table as a single-column-
// pair Parquet file.
func writeCountsParquet(path string, counts map[string]int64) error {
	if err := mkdirAll(path); err != nil {
		return err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fw.Close()
	schema := `{"Tag":"name=row, repetitiontype=REQUIRED","Fields":[
		{"Tag":"name=key, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REQUIRED"},
		{"Tag":"name=count, type=INT64, repetitiontype=REQUIRED"}]}`
	pw, err := writer.NewJSONWriter(schema, fw, 2)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer for %s: %w", path, err)
	}
	for k, v := range counts {
		row := fmt.Sprintf(`{"key":%q,"count":%d}`, k, v)
		if err := pw.Write(row); err != nil {
			return err
		}
	}
	return pw.WriteStop()
}

// DirSize reads (or, on a cache miss, recomputes by calling Warm) the
// total byte size cached for dir under commit.
func (c *Cache) DirSize(commit ohash.Hash128, dir string) (int64, error) {
	path := filepath.Join(c.cacheDir(commit), "dirs", escapeDir(dir), "size")
	data, err := readFile(path)
	if err == nil {
		var n int64
		fmt.Sscanf(string(data), "%d", &n)
		return n, nil
	}
	if err := c.Warm(commit); err != nil {
		return 0, err
	}
	data, err = readFile(path)
	if err != nil {
		return 0, nil // empty directory, no entries: zero size is correct.
	}
	var n int64
	fmt.Sscanf(string(data), "%d", &n)
	return n, nil
}
