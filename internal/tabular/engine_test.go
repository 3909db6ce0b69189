package tabular

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahomAnteneh/oxen/internal/repo"
)

func newTestEngine(t *testing.T) (*Engine, *repo.Repository) {
	t.Helper()
	r, err := repo.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	e := New(r)
	t.Cleanup(func() { e.Close() })
	return e, r
}

func writeCSV(t *testing.T, r *repo.Repository, rel, content string) {
	t.Helper()
	full := filepath.Join(r.Root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

const boxesCSV = "file,label,width\na.png,cat,100\nb.png,dog,200\nc.png,cat,300\n"

func TestIndexAndQuery(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "bounding_box.csv", boxesCSV)
	require.NoError(t, e.Index("bounding_box.csv", "main", "c1"))

	res, err := e.Query(context.Background(), "bounding_box.csv", "main", "c1", QueryOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, []string{"file", "label", "width"}, res.Columns)

	filter, err := ParseFilter("label == cat")
	require.NoError(t, err)
	res, err = e.Query(context.Background(), "bounding_box.csv", "main", "c1", QueryOptions{Filters: []Filter{filter}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRows)
}

func TestQuerySortAndPage(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "boxes.csv", boxesCSV)
	require.NoError(t, e.Index("boxes.csv", "main", "c1"))

	res, err := e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{
		SortBy: "width", SortDescending: true, Page: 1, PageSize: 2,
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "c.png", res.Rows[0]["file"])
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 2, res.TotalPages)
}

func TestAppendDeleteModify(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "boxes.csv", boxesCSV)
	require.NoError(t, e.Index("boxes.csv", "main", "c1"))

	id, err := e.Append("boxes.csv", "main", "c1", Row{"file": "d.png", "label": "bird", "width": int64(400)})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalRows)

	require.NoError(t, e.Modify("boxes.csv", "main", "c1", id, Row{"label": "plane"}))
	filter, _ := ParseFilter("label == plane")
	res, err = e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{Filters: []Filter{filter}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRows)

	require.NoError(t, e.Delete("boxes.csv", "main", "c1", id))
	res, err = e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
}

func TestExportRoundTrip(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "boxes.csv", boxesCSV)
	require.NoError(t, e.Index("boxes.csv", "main", "c1"))

	_, err := e.Append("boxes.csv", "main", "c1", Row{"file": "d.png", "label": "bird", "width": int64(400)})
	require.NoError(t, err)
	require.NoError(t, e.Export("boxes.csv", "main", "c1"))

	// The exported file must parse back to the staged view, with the
	// synthetic id column gone.
	format, err := FormatFor("boxes.csv")
	require.NoError(t, err)
	columns, rows, err := format.Import(filepath.Join(r.Root, "boxes.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "label", "width"}, columns)
	require.Len(t, rows, 4)
	assert.Equal(t, "d.png", rows[3]["file"])
	assert.Equal(t, "bird", rows[3]["label"])
}

func TestQueryAggregate(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "boxes.csv", boxesCSV)
	require.NoError(t, e.Index("boxes.csv", "main", "c1"))

	res, err := e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{
		Aggregation: &Aggregation{GroupBy: []string{"label"}, Reducers: map[string]string{"width": "sum"}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	byLabel := map[string]string{}
	for _, row := range res.Rows {
		byLabel[scalarToString(row["label"])] = scalarToString(row["sum_width"])
	}
	assert.Equal(t, "400", byLabel["cat"])
	assert.Equal(t, "200", byLabel["dog"])
}

func TestNaturalLanguageWithoutTranslator(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "boxes.csv", boxesCSV)
	require.NoError(t, e.Index("boxes.csv", "main", "c1"))

	_, err := e.Query(context.Background(), "boxes.csv", "main", "c1", QueryOptions{NaturalLanguage: "widest box"}, nil)
	assert.ErrorIs(t, err, ErrNoTranslator)
}

func TestUnsupportedFormat(t *testing.T) {
	e, r := newTestEngine(t)
	writeCSV(t, r, "notes.xyz", "whatever")
	err := e.Index("notes.xyz", "main", "c1")
	require.Error(t, err)
	var unsupported *ErrUnsupportedFormat
	assert.ErrorAs(t, err, &unsupported)
}
