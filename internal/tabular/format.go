// Package tabular implements the per-file tabular data-frame cache and
// staged-row engine: an embedded analytical database indexing a tabular
// file so rows can be appended, deleted, and queried against a staged
// view, then materialised back into the on-disk file on commit.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/NahomAnteneh/oxen/internal/objects"
)

// Row is a single data-frame row, column name to value. Values are
// string, int64, float64, bool, or nil; each Format is responsible for
// coercing to/from its own on-disk representation.
type Row map[string]interface{}

// ErrUnsupportedFormat is returned when no Format recognizes a file's
// extension.
type ErrUnsupportedFormat struct{ Ext string }

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported tabular format: %q", e.Ext)
}

// Format is the small import/export capability a tabular file type must
// provide; the concrete Format is selected by extension, not by runtime
// type.
type Format interface {
	// Import reads every row of path and infers a column order.
	Import(path string) (columns []string, rows []Row, err error)
	// Export writes rows (in column order) to path.
	Export(columns []string, rows []Row, path string) error
}

// FormatFor selects a Format by file extension: CSV, TSV, JSON-lines
// (.json/.jsonl/.ndjson), Parquet.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return csvFormat{delimiter: ','}, nil
	case ".tsv":
		return csvFormat{delimiter: '\t'}, nil
	case ".json", ".jsonl", ".ndjson":
		return jsonLinesFormat{}, nil
	case ".parquet":
		return parquetFormat{}, nil
	default:
		return nil, &ErrUnsupportedFormat{Ext: filepath.Ext(path)}
	}
}

// ---- CSV / TSV ----

type csvFormat struct{ delimiter rune }

func (f csvFormat) Import(path string) ([]string, []Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = f.delimiter
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	columns := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = inferScalar(rec[i])
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func (f csvFormat) Export(columns []string, rows []Row, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Comma = f.delimiter
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(columns))
		for i, col := range columns {
			rec[i] = scalarToString(row[col])
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func inferScalar(s string) interface{} {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return fl
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func scalarToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ---- JSON lines ----

type jsonLinesFormat struct{}

func (jsonLinesFormat) Import(path string) ([]string, []Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	var rows []Row
	colSet := map[string]struct{}{}
	for dec.More() {
		var row Row
		if err := dec.Decode(&row); err != nil {
			return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for k := range row {
			colSet[k] = struct{}{}
		}
		rows = append(rows, row)
	}
	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns, rows, nil
}

func (jsonLinesFormat) Export(columns []string, rows []Row, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	for _, row := range rows {
		ordered := make(map[string]interface{}, len(columns))
		for _, c := range columns {
			ordered[c] = row[c]
		}
		if err := enc.Encode(ordered); err != nil {
			return err
		}
	}
	return nil
}

// ---- Parquet ----

// parquetFormat imports/exports via a JSON-schema-described parquet file,
// the generic (non-struct-bound) mode xitongsys/parquet-go offers for
// dynamic, per-file column sets — the schema is not known at compile
// time here the way it would be for a fixed Go struct.
type parquetFormat struct{}

func parquetJSONSchema(columns []string) string {
	fields := make([]string, len(columns))
	for i, c := range columns {
		fields[i] = fmt.Sprintf(`{"Tag":"name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}`, sanitizeParquetName(c))
	}
	return fmt.Sprintf(`{"Tag":"name=data, repetitiontype=REQUIRED","Fields":[%s]}`, strings.Join(fields, ","))
}

func sanitizeParquetName(c string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, c)
}

func (parquetFormat) Import(path string) ([]string, []Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parquet schema for %s: %w", path, err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	schemaHandler := pr.SchemaHandler
	var columns []string
	for _, name := range schemaHandler.ValueColumns {
		parts := strings.Split(name, ".")
		columns = append(columns, parts[len(parts)-1])
	}

	rows := make([]Row, numRows)
	for i := range rows {
		rows[i] = make(Row, len(columns))
	}
	for ci, colName := range schemaHandler.ValueColumns {
		values, _, _, err := pr.ReadColumnByIndex(int64(ci), int64(numRows))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read column %s in %s: %w", colName, path, err)
		}
		for ri, v := range values {
			if ri >= len(rows) {
				break
			}
			rows[ri][columns[ci]] = parquetScalar(v)
		}
	}
	return columns, rows, nil
}

func parquetScalar(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (parquetFormat) Export(columns []string, rows []Row, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(parquetJSONSchema(columns), fw, 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer for %s: %w", path, err)
	}
	for _, row := range rows {
		record := make(map[string]string, len(columns))
		for _, c := range columns {
			record[sanitizeParquetName(c)] = scalarToString(row[c])
		}
		b, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := pw.Write(string(b)); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// columnsFromSchema extracts the ordered field names from a Merkle-tree
// Schema node.
func columnsFromSchema(s *objects.Schema) []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}
