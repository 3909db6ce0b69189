// Package diffengine implements the text and tabular diff views. Text
// diff is a Myers line diff computed via sergi/go-diff.
package diffengine

import (
	"strings"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// LineStatus classifies one line of a text diff.
type LineStatus string

const (
	LineUnchanged LineStatus = "unchanged"
	LineAdded     LineStatus = "added"
	LineRemoved   LineStatus = "removed"
)

// DiffLine is one line of a text diff result.
type DiffLine struct {
	Status  LineStatus
	Content string
}

// TextDiff computes a Myers line-level diff between old and new content.
// A changed line is represented here as a Removed line immediately
// followed by an Added line. A missing newline after the last line is
// not reported as a change.
func TextDiff(oldContent, newContent string) []DiffLine {
	if oldContent != "" && !strings.HasSuffix(oldContent, "\n") {
		oldContent += "\n"
	}
	if newContent != "" && !strings.HasSuffix(newContent, "\n") {
		newContent += "\n"
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out []DiffLine
	for _, d := range diffs {
		status := LineUnchanged
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			status = LineAdded
		case diffmatchpatch.DiffDelete:
			status = LineRemoved
		}
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			out = append(out, DiffLine{Status: status, Content: line})
		}
	}
	return out
}

// RowChangeCounts is the row-level summary of a tabular diff.
type RowChangeCounts struct {
	Added    int
	Removed  int
	Modified int
}

// ColumnChanges is the column-level summary of a tabular diff.
type ColumnChanges struct {
	Added   []string
	Removed []string
}

// SchemaDiff pairs the two sides' schemas with their column changes.
type SchemaDiff struct {
	Left    []string
	Right   []string
	Changes ColumnChanges
}

// TabularDiffResult summarizes a tabular diff: schema changes, row-level
// change counts, duplicate-row count, and the rendered contents.
// Contents is left as a [][]string data frame (rows of string cells) so
// this package stays independent of the sqlite-backed tabular engine;
// internal/tabular constructs one from a query result.
type TabularDiffResult struct {
	Schema       SchemaDiff
	RowCounts    RowChangeCounts
	Dupes        int
	ContentsCols []string
	Contents     [][]string
}

// DiffSchemaColumns computes the added/removed column names between two
// ordered column-name lists.
func DiffSchemaColumns(left, right []string) ColumnChanges {
	leftSet := make(map[string]bool, len(left))
	for _, c := range left {
		leftSet[c] = true
	}
	rightSet := make(map[string]bool, len(right))
	for _, c := range right {
		rightSet[c] = true
	}
	var changes ColumnChanges
	for _, c := range right {
		if !leftSet[c] {
			changes.Added = append(changes.Added, c)
		}
	}
	for _, c := range left {
		if !rightSet[c] {
			changes.Removed = append(changes.Removed, c)
		}
	}
	return changes
}
