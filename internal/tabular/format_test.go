package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCSVRoundTrip checks that import followed by export yields a file
// whose parsed rows equal the original.
func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bounding_box.csv")
	original := "label,x,y\ncat,1,2\ndog,3,4\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	f := csvFormat{delimiter: ','}
	columns, rows, err := f.Import(path)
	require.NoError(t, err)
	require.Equal(t, []string{"label", "x", "y"}, columns)
	require.Len(t, rows, 2)
	assert.Equal(t, "cat", rows[0]["label"])
	assert.EqualValues(t, 1, rows[0]["x"])

	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, f.Export(columns, rows, outPath))

	columns2, rows2, err := f.Import(outPath)
	require.NoError(t, err)
	assert.Equal(t, columns, columns2)
	require.Len(t, rows2, len(rows))
	assert.Equal(t, rows[0]["label"], rows2[0]["label"])
	assert.Equal(t, rows[1]["y"], rows2[1]["y"])
}

func TestFormatForSelectsByExtension(t *testing.T) {
	cases := map[string]bool{
		"a.csv":     true,
		"a.tsv":     true,
		"a.json":    true,
		"a.jsonl":   true,
		"a.ndjson":  true,
		"a.parquet": true,
	}
	for name := range cases {
		_, err := FormatFor(name)
		assert.NoError(t, err, name)
	}
	_, err := FormatFor("a.exe")
	assert.Error(t, err)
	var uerr *ErrUnsupportedFormat
	assert.ErrorAs(t, err, &uerr)
}
