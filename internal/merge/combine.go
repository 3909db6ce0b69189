package merge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/tabular"
)

func writeTemp(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func removeTemp(path string) { os.Remove(path) }

// Combine resolves a tabular conflict at relPath by vertically stacking
// HEAD's and TARGET's rows and dropping duplicate rows. Sides whose
// column sets have drifted apart cannot be stacked and are left as an
// error rather than silently deduped.
func (m *Merger) Combine(relPath string) error {
	c, ok, err := m.getConflict(relPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not find merge conflict for: %s", relPath)
	}

	format, err := tabular.FormatFor(relPath)
	if err != nil {
		return err
	}

	headRows, headCols, err := readVersion(m, c.HeadHash, relPath, format)
	if err != nil {
		return err
	}
	targetRows, targetCols, err := readVersion(m, c.MergeHash, relPath, format)
	if err != nil {
		return err
	}
	columns := headCols
	if len(columns) == 0 {
		columns = targetCols
	}
	// Stacking only makes sense over an identical column set; a schema
	// drift between the two sides cannot be auto-resolved.
	if len(headCols) > 0 && len(targetCols) > 0 && !sameColumns(headCols, targetCols) {
		return &ErrMergeRequiresManualResolution{Path: relPath}
	}

	combined := make([]tabular.Row, 0, len(headRows)+len(targetRows))
	seen := make(map[string]tabular.Row, len(headRows))
	keyOf := func(r tabular.Row) string {
		parts := make([]byte, 0, 64)
		for _, c := range columns {
			parts = append(parts, []byte(fmt.Sprintf("%v\x00", r[c]))...)
		}
		return string(parts)
	}
	for _, r := range headRows {
		k := keyOf(r)
		seen[k] = r
		combined = append(combined, r)
	}
	for _, r := range targetRows {
		k := keyOf(r)
		if existing, dup := seen[k]; dup {
			if !rowsEqualExportable(existing, r, columns) {
				return &ErrMergeRequiresManualResolution{Path: relPath}
			}
			continue
		}
		seen[k] = r
		combined = append(combined, r)
	}

	fullPath := filepath.Join(m.r.Root, filepath.FromSlash(relPath))
	if err := format.Export(columns, combined, fullPath); err != nil {
		return err
	}
	return m.clearConflict(relPath)
}

func readVersion(m *Merger, hashHex, relPath string, format tabular.Format) ([]tabular.Row, []string, error) {
	if hashHex == "" {
		return nil, nil, nil
	}
	h, err := ohash.ParseHash128(hashHex)
	if err != nil {
		return nil, nil, err
	}
	fileNode, err := m.r.Nodes.GetFile(h)
	if err != nil {
		return nil, nil, err
	}
	data, err := m.r.Objects.ReadAll(fileNode.ContentHash, fileNode.Ext)
	if err != nil {
		return nil, nil, err
	}
	tmp := filepath.Join(m.r.OxenDir, "cache", "df", "combine-tmp"+filepath.Ext(relPath))
	if err := writeTemp(tmp, data); err != nil {
		return nil, nil, err
	}
	defer removeTemp(tmp)
	cols, rows, err := format.Import(tmp)
	return rows, cols, err
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}

func rowsEqualExportable(a, b tabular.Row, columns []string) bool {
	for _, c := range columns {
		if fmt.Sprintf("%v", a[c]) != fmt.Sprintf("%v", b[c]) {
			return false
		}
	}
	return true
}
