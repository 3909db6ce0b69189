package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	cases := []struct {
		expr string
		want Filter
	}{
		{"label = cat", Filter{Column: "label", Op: OpEq, Value: "cat"}},
		{"label == cat", Filter{Column: "label", Op: OpEq, Value: "cat"}},
		{"label != dog", Filter{Column: "label", Op: OpNe, Value: "dog"}},
		{"score > 0.5", Filter{Column: "score", Op: OpGt, Value: "0.5"}},
		{"score >= 0.5", Filter{Column: "score", Op: OpGte, Value: "0.5"}},
		{"score < 10", Filter{Column: "score", Op: OpLt, Value: "10"}},
		{"score<=10", Filter{Column: "score", Op: OpLte, Value: "10"}},
	}
	for _, c := range cases {
		got, err := ParseFilter(c.expr)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}

	_, err := ParseFilter("no operator here")
	assert.Error(t, err)
	_, err = ParseFilter("= missingcolumn")
	assert.Error(t, err)
}

func TestPaginate(t *testing.T) {
	limit, offset := paginate(QueryOptions{})
	assert.Equal(t, 100, limit)
	assert.Equal(t, 0, offset)

	limit, offset = paginate(QueryOptions{Page: 3, PageSize: 20})
	assert.Equal(t, 20, limit)
	assert.Equal(t, 40, offset)

	// An explicit slice wins over paging.
	limit, offset = paginate(QueryOptions{SliceStart: 10, SliceEnd: 25, Page: 2, PageSize: 5})
	assert.Equal(t, 15, limit)
	assert.Equal(t, 10, offset)
}

func TestDiffRowCountsByKeyColumn(t *testing.T) {
	cols := []string{"file", "label"}
	left := []Row{
		{"file": "a.png", "label": "cat"},
		{"file": "b.png", "label": "dog"},
		{"file": "c.png", "label": "cat"},
	}
	right := []Row{
		{"file": "a.png", "label": "cat"},    // unchanged
		{"file": "b.png", "label": "person"}, // modified
		{"file": "d.png", "label": "dog"},    // added; c.png removed
	}

	result, err := Diff(cols, left, cols, right, []string{"file"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCounts.Added)
	assert.Equal(t, 1, result.RowCounts.Removed)
	assert.Equal(t, 1, result.RowCounts.Modified)
	assert.Empty(t, result.Schema.Changes.Added)
	assert.Empty(t, result.Schema.Changes.Removed)
}

func TestDiffByRowPosition(t *testing.T) {
	cols := []string{"v"}
	left := []Row{{"v": "a"}, {"v": "b"}}
	right := []Row{{"v": "a"}, {"v": "b"}, {"v": "c"}}

	result, err := Diff(cols, left, cols, right, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCounts.Added)
	assert.Equal(t, 0, result.RowCounts.Removed)
	assert.Equal(t, 0, result.RowCounts.Modified)
}

func TestDiffColumnChanges(t *testing.T) {
	left := []Row{{"a": "1", "b": "2"}}
	right := []Row{{"a": "1", "c": "3"}}

	result, err := Diff([]string{"a", "b"}, left, []string{"a", "c"}, right, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, result.Schema.Changes.Added)
	assert.Equal(t, []string{"b"}, result.Schema.Changes.Removed)
}

func TestPrimaryKeyColumns(t *testing.T) {
	meta := map[string][]string{
		"id":    {"primary_key"},
		"file":  {"primary_key"},
		"label": nil,
	}
	keys := PrimaryKeyColumns([]string{"id", "label", "file"}, meta)
	assert.Equal(t, []string{"id", "file"}, keys)

	assert.Nil(t, PrimaryKeyColumns([]string{"label"}, map[string][]string{}))
}
