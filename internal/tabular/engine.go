package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/vlog"
	"go.uber.org/zap"
)

// IDColumn is the synthetic row-identity column "_oxen_id",
// auto-populated on insert, excluded from the exported file.
const IDColumn = "_oxen_id"

// ErrDbBusy is the error kind for a busy sqlite session. No code path in
// this package returns it, and nothing retries on it.
type ErrDbBusy struct{ Path string }

func (e *ErrDbBusy) Error() string { return fmt.Sprintf("data frame db busy: %s", e.Path) }

// ErrSchemaMismatch is returned when two tabular sides being compared or
// merged don't share a compatible column set.
type ErrSchemaMismatch struct {
	Left, Right    []string
	RequiredFields []string
}

func (e *ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch: left=%v right=%v required=%v", e.Left, e.Right, e.RequiredFields)
}

// sessionMeta is the (branch, commit-id) pair recorded alongside the DB
// so later calls can tell if the cache is stale.
type sessionMeta struct {
	Branch   string
	CommitID string
}

type session struct {
	db      *sql.DB
	path    string
	ext     string
	columns []string
	meta    sessionMeta
}

// Engine owns the per-file sqlite sessions for one repository's indexed
// tabular files, cached under .oxen/cache/df.
type Engine struct {
	r *repo.Repository

	mu   sync.Mutex
	open map[string]*session
}

// New creates an Engine for repository r.
func New(r *repo.Repository) *Engine {
	return &Engine{r: r, open: make(map[string]*session)}
}

// Close releases every open sqlite handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, s := range e.open {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.open = make(map[string]*session)
	return firstErr
}

func (e *Engine) cachePath(relPath string) string {
	escaped := strings.ReplaceAll(relPath, "/", "__")
	return filepath.Join(e.r.OxenDir, "cache", "df", escaped+".db")
}

// Index drops any existing cache for relPath and rebuilds it from the
// working-tree file: parse the file with the format's Import, then
// CREATE TABLE and bulk-insert with one generated uuid per row as
// _oxen_id.
func (e *Engine) Index(relPath string, branch, commitID string) error {
	fullPath := filepath.Join(e.r.Root, filepath.FromSlash(relPath))
	format, err := FormatFor(relPath)
	if err != nil {
		return err
	}
	columns, rows, err := format.Import(fullPath)
	if err != nil {
		return err
	}

	cachePath := e.cachePath(relPath)
	os.Remove(cachePath)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("failed to create df cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+cachePath)
	if err != nil {
		return fmt.Errorf("failed to open df cache %s: %w", cachePath, err)
	}

	if err := createTable(db, columns); err != nil {
		db.Close()
		return err
	}
	if err := bulkInsert(db, columns, rows); err != nil {
		db.Close()
		return err
	}

	e.mu.Lock()
	if old, ok := e.open[relPath]; ok {
		old.db.Close()
	}
	e.open[relPath] = &session{
		db: db, path: cachePath, ext: filepath.Ext(relPath), columns: columns,
		meta: sessionMeta{Branch: branch, CommitID: commitID},
	}
	e.mu.Unlock()

	vlog.L().Debug("indexed tabular file", zap.String("path", relPath), zap.Int("rows", len(rows)))
	return nil
}

func createTable(db *sql.DB, columns []string) error {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("%q", c))
	}
	defs = append(defs, fmt.Sprintf("%q TEXT", IDColumn))
	_, err := db.Exec(fmt.Sprintf("CREATE TABLE data (%s)", strings.Join(defs, ", ")))
	if err != nil {
		return fmt.Errorf("failed to create data table: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE _oxen_field_meta (column TEXT, key TEXT, value TEXT, PRIMARY KEY (column, key))`)
	if err != nil {
		return fmt.Errorf("failed to create field metadata table: %w", err)
	}
	return nil
}

func bulkInsert(db *sql.DB, columns []string, rows []Row) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	placeholders := make([]string, len(columns)+1)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	cols := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		cols = append(cols, fmt.Sprintf("%q", c))
	}
	cols = append(cols, fmt.Sprintf("%q", IDColumn))
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO data (%s) VALUES (%s)", strings.Join(cols, ","), strings.Join(placeholders, ",")))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		args := make([]interface{}, 0, len(columns)+1)
		for _, c := range columns {
			args = append(args, row[c])
		}
		args = append(args, uuid.NewString())
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return tx.Commit()
}

// ensure looks up (or lazily re-indexes, if stale for branch/commitID)
// an open session.
func (e *Engine) ensure(relPath, branch, commitID string) (*session, error) {
	e.mu.Lock()
	s, ok := e.open[relPath]
	e.mu.Unlock()
	if ok && s.meta.Branch == branch && s.meta.CommitID == commitID {
		return s, nil
	}
	if err := e.Index(relPath, branch, commitID); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open[relPath], nil
}

// Append inserts one row built from a JSON fragment, returning the
// generated _oxen_id. A caller-provided id is honored if present in the
// fragment.
func (e *Engine) Append(relPath, branch, commitID string, row Row) (string, error) {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return "", err
	}
	id, _ := row[IDColumn].(string)
	if id == "" {
		id = uuid.NewString()
	}
	cols := make([]string, 0, len(s.columns)+1)
	placeholders := make([]string, 0, len(s.columns)+1)
	args := make([]interface{}, 0, len(s.columns)+1)
	for _, c := range s.columns {
		cols = append(cols, fmt.Sprintf("%q", c))
		placeholders = append(placeholders, "?")
		args = append(args, row[c])
	}
	cols = append(cols, fmt.Sprintf("%q", IDColumn))
	placeholders = append(placeholders, "?")
	args = append(args, id)
	_, err = s.db.Exec(fmt.Sprintf("INSERT INTO data (%s) VALUES (%s)", strings.Join(cols, ","), strings.Join(placeholders, ",")), args...)
	if err != nil {
		return "", fmt.Errorf("failed to append row to %s: %w", relPath, err)
	}
	return id, nil
}

// Delete removes the row identified by oxenID.
func (e *Engine) Delete(relPath, branch, commitID, oxenID string) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf("DELETE FROM data WHERE %q = ?", IDColumn), oxenID)
	if err != nil {
		return fmt.Errorf("failed to delete row %s from %s: %w", oxenID, relPath, err)
	}
	return nil
}

// Modify updates the columns present in patch for the row identified by
// oxenID.
func (e *Engine) Modify(relPath, branch, commitID, oxenID string, patch Row) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	sets := make([]string, 0, len(patch))
	args := make([]interface{}, 0, len(patch)+1)
	for c, v := range patch {
		sets = append(sets, fmt.Sprintf("%q = ?", c))
		args = append(args, v)
	}
	args = append(args, oxenID)
	_, err = s.db.Exec(fmt.Sprintf("UPDATE data SET %s WHERE %q = ?", strings.Join(sets, ", "), IDColumn), args...)
	if err != nil {
		return fmt.Errorf("failed to modify row %s in %s: %w", oxenID, relPath, err)
	}
	return nil
}

// Export selects every column except _oxen_id and writes the file back
// in its original format. The commit writer then hashes and stores the
// resulting bytes as an ordinary content-addressed blob.
func (e *Engine) Export(relPath, branch, commitID string) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	format, err := FormatFor(relPath)
	if err != nil {
		return err
	}
	cols := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		cols = append(cols, fmt.Sprintf("%q", c))
	}
	rs, err := s.db.Query(fmt.Sprintf("SELECT %s FROM data", strings.Join(cols, ",")))
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", relPath, err)
	}
	defer rs.Close()

	rows, err := scanRows(rs, s.columns)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(e.r.Root, filepath.FromSlash(relPath))
	return format.Export(s.columns, rows, fullPath)
}

func scanRows(rs *sql.Rows, columns []string) ([]Row, error) {
	var rows []Row
	for rs.Next() {
		vals := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			row[c] = vals[i]
		}
		rows = append(rows, row)
	}
	return rows, rs.Err()
}

// SchemaOf returns the Merkle-tree Schema for the currently-indexed
// session, built from its sqlite column list, used by the commit writer
// (commitwriter.SchemaLookup) to attach a Schema node to this staged
// path instead of an ordinary File node.
func (e *Engine) SchemaOf(relPath string) (*objects.Schema, bool, error) {
	e.mu.Lock()
	s, ok := e.open[relPath]
	e.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	schema, err := e.schemaOfSession(s)
	if err != nil {
		return nil, false, err
	}
	return schema, true, nil
}

// Text2SQL translates a natural-language query into SQL against a
// file's schema. Query calls this when opts.NaturalLanguage is set; the
// core ships no implementation, so callers that don't inject one get
// ErrNoTranslator.
type Text2SQL func(ctx context.Context, nl string, columns []string) (string, error)

// ErrNoTranslator is returned by Query when opts.NaturalLanguage is set
// but no Text2SQL was configured.
var ErrNoTranslator = fmt.Errorf("no text2sql translator configured")
