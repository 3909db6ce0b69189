package diffengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextDiffDetectsAppendedLine(t *testing.T) {
	lines := TextDiff("cat\ndog", "cat\ndog\nperson")
	var added, unchanged int
	for _, l := range lines {
		switch l.Status {
		case LineAdded:
			added++
			assert.Equal(t, "person", l.Content)
		case LineUnchanged:
			unchanged++
		}
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, unchanged)
}

func TestTextDiffNoChange(t *testing.T) {
	lines := TextDiff("same\ntext", "same\ntext")
	for _, l := range lines {
		assert.Equal(t, LineUnchanged, l.Status)
	}
}

func TestDiffSchemaColumns(t *testing.T) {
	changes := DiffSchemaColumns([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"c"}, changes.Added)
	assert.Equal(t, []string{"a"}, changes.Removed)
}
