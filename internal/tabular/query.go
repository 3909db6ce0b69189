package tabular

import (
	"context"
	"fmt"
	"strings"

	"github.com/NahomAnteneh/oxen/internal/diffengine"
)

// FilterOp is one comparison in the filter DSL ("col op value").
type FilterOp string

const (
	OpEq  FilterOp = "="
	OpNe  FilterOp = "!="
	OpLt  FilterOp = "<"
	OpLte FilterOp = "<="
	OpGt  FilterOp = ">"
	OpGte FilterOp = ">="
)

// Filter is one parsed clause of the filter DSL, e.g. "label == cat" or
// "score > 0.5".
type Filter struct {
	Column string
	Op     FilterOp
	Value  string
}

// ParseFilter parses a single "<col> <op> <value>" clause, accepting
// both "==" and "=" for equality the way most data-frame CLIs do.
func ParseFilter(expr string) (Filter, error) {
	// Two-character tokens first so "a <= 5" never parses as "<", and
	// "==" normalizes to OpEq.
	tokens := []struct {
		text string
		op   FilterOp
	}{
		{"!=", OpNe}, {"<=", OpLte}, {">=", OpGte}, {"==", OpEq},
		{"<", OpLt}, {">", OpGt}, {"=", OpEq},
	}
	for _, tok := range tokens {
		if idx := strings.Index(expr, tok.text); idx >= 0 {
			col := strings.TrimSpace(expr[:idx])
			val := strings.TrimSpace(expr[idx+len(tok.text):])
			if col == "" {
				continue
			}
			return Filter{Column: col, Op: tok.op, Value: val}, nil
		}
	}
	return Filter{}, fmt.Errorf("invalid filter expression: %q", expr)
}

// Aggregation is a group-by plus a set of per-column reducers.
type Aggregation struct {
	GroupBy  []string
	Reducers map[string]string // column -> one of "sum","avg","min","max","count"
}

// QueryOptions configures a single Query call.
type QueryOptions struct {
	Page            int
	PageSize        int
	SortBy          string
	SortDescending  bool
	SliceStart      int
	SliceEnd        int // 0 means "to the end"
	Columns         []string
	Filters         []Filter
	Aggregation     *Aggregation
	SQL             string // passthrough, mutually exclusive with the rest
	NaturalLanguage string
}

// QueryResult is a data frame plus pagination metadata and schema.
type QueryResult struct {
	Columns    []string
	Rows       []Row
	TotalRows  int
	Page       int
	PageSize   int
	TotalPages int
}

// Query runs opts against the indexed session for relPath.
func (e *Engine) Query(ctx context.Context, relPath, branch, commitID string, opts QueryOptions, translate Text2SQL) (*QueryResult, error) {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return nil, err
	}

	if opts.NaturalLanguage != "" {
		if translate == nil {
			return nil, ErrNoTranslator
		}
		sql, err := translate(ctx, opts.NaturalLanguage, s.columns)
		if err != nil {
			return nil, fmt.Errorf("text2sql translation failed: %w", err)
		}
		opts.SQL = sql
	}

	if opts.SQL != "" {
		return e.runRawSQL(s, opts.SQL)
	}
	if opts.Aggregation != nil {
		return e.runAggregate(s, opts)
	}
	return e.runSelect(s, opts)
}

func (e *Engine) runRawSQL(s *session, query string) (*QueryResult, error) {
	rs, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("sql query failed: %w", err)
	}
	defer rs.Close()
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	rows, err := scanRows(rs, cols)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Columns: cols, Rows: rows, TotalRows: len(rows), Page: 1, PageSize: len(rows), TotalPages: 1}, nil
}

func (e *Engine) runSelect(s *session, opts QueryOptions) (*QueryResult, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = s.columns
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = fmt.Sprintf("%q", c)
	}

	var whereClauses []string
	var args []interface{}
	for _, f := range opts.Filters {
		whereClauses = append(whereClauses, fmt.Sprintf("%q %s ?", f.Column, sqlOp(f.Op)))
		args = append(args, f.Value)
	}
	where := ""
	if len(whereClauses) > 0 {
		where = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM data%s", where)
	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	order := ""
	if opts.SortBy != "" {
		dir := "ASC"
		if opts.SortDescending {
			dir = "DESC"
		}
		order = fmt.Sprintf(" ORDER BY %q %s", opts.SortBy, dir)
	}

	limit, offset := paginate(opts)
	query := fmt.Sprintf("SELECT %s FROM data%s%s LIMIT %d OFFSET %d", strings.Join(quoted, ","), where, order, limit, offset)
	rs, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", query, err)
	}
	defer rs.Close()
	rows, err := scanRows(rs, columns)
	if err != nil {
		return nil, err
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = limit
	}
	totalPages := 1
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return &QueryResult{Columns: columns, Rows: rows, TotalRows: total, Page: page, PageSize: pageSize, TotalPages: totalPages}, nil
}

func paginate(opts QueryOptions) (limit, offset int) {
	if opts.SliceEnd > opts.SliceStart {
		return opts.SliceEnd - opts.SliceStart, opts.SliceStart
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

func sqlOp(op FilterOp) string {
	switch op {
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "="
	}
}

func (e *Engine) runAggregate(s *session, opts QueryOptions) (*QueryResult, error) {
	agg := opts.Aggregation
	selectParts := make([]string, 0, len(agg.GroupBy)+len(agg.Reducers))
	for _, g := range agg.GroupBy {
		selectParts = append(selectParts, fmt.Sprintf("%q", g))
	}
	var outCols []string
	outCols = append(outCols, agg.GroupBy...)
	for col, reducer := range agg.Reducers {
		fn := strings.ToUpper(reducer)
		alias := fmt.Sprintf("%s_%s", reducer, col)
		selectParts = append(selectParts, fmt.Sprintf("%s(%q) AS %q", fn, col, alias))
		outCols = append(outCols, alias)
	}
	groupBy := ""
	if len(agg.GroupBy) > 0 {
		quoted := make([]string, len(agg.GroupBy))
		for i, g := range agg.GroupBy {
			quoted[i] = fmt.Sprintf("%q", g)
		}
		groupBy = " GROUP BY " + strings.Join(quoted, ",")
	}
	query := fmt.Sprintf("SELECT %s FROM data%s", strings.Join(selectParts, ","), groupBy)
	rs, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("aggregate query failed: %w", err)
	}
	defer rs.Close()
	rows, err := scanRows(rs, outCols)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Columns: outCols, Rows: rows, TotalRows: len(rows), Page: 1, PageSize: len(rows), TotalPages: 1}, nil
}

// Diff computes a tabular diff between two versions of a file: it joins
// rows on keyColumns, or on row position when keyColumns is empty.
func Diff(leftCols []string, leftRows []Row, rightCols []string, rightRows []Row, keyColumns []string) (diffengine.TabularDiffResult, error) {
	result := diffengine.TabularDiffResult{
		Schema: diffengine.SchemaDiff{
			Left:    leftCols,
			Right:   rightCols,
			Changes: diffengine.DiffSchemaColumns(leftCols, rightCols),
		},
	}

	keyFn := rowKeyFunc(keyColumns)
	leftByKey := make(map[string]Row, len(leftRows))
	for i, r := range leftRows {
		leftByKey[keyFn(r, i)] = r
	}
	rightByKey := make(map[string]Row, len(rightRows))
	for i, r := range rightRows {
		rightByKey[keyFn(r, i)] = r
	}
	result.Dupes = len(rightRows) - len(rightByKey)

	seen := make(map[string]bool, len(leftByKey))
	for k, lr := range leftByKey {
		seen[k] = true
		rr, ok := rightByKey[k]
		if !ok {
			result.RowCounts.Removed++
			continue
		}
		if !rowsEqual(lr, rr) {
			result.RowCounts.Modified++
		}
	}
	for k := range rightByKey {
		if !seen[k] {
			result.RowCounts.Added++
		}
	}

	result.ContentsCols = rightCols
	for _, r := range rightRows {
		rec := make([]string, len(rightCols))
		for i, c := range rightCols {
			rec[i] = scalarToString(r[c])
		}
		result.Contents = append(result.Contents, rec)
	}
	return result, nil
}

func rowKeyFunc(keyColumns []string) func(Row, int) string {
	if len(keyColumns) == 0 {
		return func(_ Row, idx int) string { return fmt.Sprintf("%d", idx) }
	}
	return func(r Row, _ int) string {
		parts := make([]string, len(keyColumns))
		for i, c := range keyColumns {
			parts[i] = scalarToString(r[c])
		}
		return strings.Join(parts, "\x00")
	}
}

func rowsEqual(a, b Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if scalarToString(v) != scalarToString(b[k]) {
			return false
		}
	}
	return true
}

// PrimaryKeyColumns returns the declared primary-key column list from
// Schema field metadata, defaulting to nil (row-position keying) if none
// is declared.
func PrimaryKeyColumns(columns []string, metadata map[string][]string) []string {
	var out []string
	for _, c := range columns {
		for _, tag := range metadata[c] {
			if tag == "primary_key" {
				out = append(out, c)
			}
		}
	}
	return out
}
