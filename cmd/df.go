package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/staging"
	"github.com/NahomAnteneh/oxen/internal/tabular"
)

var (
	dfFilters   []string
	dfSort      string
	dfDesc      bool
	dfPage      int
	dfPageSize  int
	dfSlice     string
	dfColumns   string
	dfSQL       string
	dfText2SQL  string
	dfGroupBy   string
	dfAggregate []string
	dfOut       string
)

// parseReducer parses one --aggregate entry of the form "func(col)",
// e.g. "sum(width)".
func parseReducer(expr string) (column, reducer string, err error) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") {
		return "", "", fmt.Errorf("invalid aggregate %q: expected func(column)", expr)
	}
	reducer = strings.TrimSpace(expr[:open])
	column = strings.TrimSpace(expr[open+1 : len(expr)-1])
	if reducer == "" || column == "" {
		return "", "", fmt.Errorf("invalid aggregate %q: expected func(column)", expr)
	}
	return column, reducer, nil
}

// currentBranchID resolves the (branch-name, head-commit-id) pair the
// tabular engine uses as its staleness key.
func currentBranchID(r *repo.Repository) (branch, commitID string, err error) {
	head, isBranch, err := r.Refs.Head()
	if err != nil {
		return "", "", err
	}
	if isBranch {
		branch = head
	}
	id, has, err := r.Refs.HeadCommit()
	if err != nil {
		return "", "", err
	}
	if has {
		commitID = id.String()
	}
	return branch, commitID, nil
}

// stageExport re-exports a tabular file's in-DB staged view to disk and
// records a Tabular-typed staged entry, mirroring staging.Manager.Add
// but tagging the entry type the commit writer uses to attach a Schema
// node instead of a plain File node.
func stageExport(r *repo.Repository, engine *tabular.Engine, sm *staging.Manager, rel, branch, commitID string) error {
	if err := engine.Export(rel, branch, commitID); err != nil {
		return err
	}
	fullPath := filepath.Join(r.Root, filepath.FromSlash(rel))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("failed to read exported %s: %w", rel, err)
	}
	h := ohash.HashBytes(data)
	if _, _, err := r.Objects.WriteFile(fullPath, filepath.Ext(rel)); err != nil {
		return err
	}
	return sm.PutStaged(rel, staging.StagedEntry{
		Path: rel, Hash: h.String(), Status: staging.StatusModified, EntryType: staging.EntryTabular,
	})
}

func init() {
	dfCmd := NewRepoCommand("df <path>", "Query, filter, and aggregate an indexed tabular file", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("df requires exactly one path")
		}
		rel, err := repoRelPath(r, args[0])
		if err != nil {
			return err
		}
		branch, commitID, err := currentBranchID(r)
		if err != nil {
			return err
		}
		engine := tabular.New(r)
		defer engine.Close()

		opts := tabular.QueryOptions{
			Page: dfPage, PageSize: dfPageSize, SortBy: dfSort, SortDescending: dfDesc,
			SQL: dfSQL, NaturalLanguage: dfText2SQL,
		}
		if len(dfAggregate) > 0 {
			agg := &tabular.Aggregation{Reducers: make(map[string]string, len(dfAggregate))}
			if dfGroupBy != "" {
				agg.GroupBy = strings.Split(dfGroupBy, ",")
			}
			for _, a := range dfAggregate {
				col, reducer, err := parseReducer(a)
				if err != nil {
					return err
				}
				agg.Reducers[col] = reducer
			}
			opts.Aggregation = agg
		}
		if dfColumns != "" {
			opts.Columns = strings.Split(dfColumns, ",")
		}
		for _, f := range dfFilters {
			filter, err := tabular.ParseFilter(f)
			if err != nil {
				return err
			}
			opts.Filters = append(opts.Filters, filter)
		}
		if dfSlice != "" {
			parts := strings.SplitN(dfSlice, "..", 2)
			if len(parts) == 2 {
				opts.SliceStart, _ = strconv.Atoi(parts[0])
				opts.SliceEnd, _ = strconv.Atoi(parts[1])
			}
		}

		result, err := engine.Query(context.Background(), rel, branch, commitID, opts, nil)
		if err != nil {
			return err
		}
		return writeQueryResult(result, dfOut)
	})
	dfCmd.Flags().StringArrayVar(&dfFilters, "filter", nil, "filter clause 'col op value', may repeat")
	dfCmd.Flags().StringVar(&dfSort, "sort", "", "column to sort by")
	dfCmd.Flags().BoolVar(&dfDesc, "desc", false, "sort descending")
	dfCmd.Flags().IntVar(&dfPage, "page", 1, "page number")
	dfCmd.Flags().IntVar(&dfPageSize, "page-size", 100, "rows per page")
	dfCmd.Flags().StringVar(&dfSlice, "slice", "", "row range 'a..b'")
	dfCmd.Flags().StringVar(&dfColumns, "columns", "", "comma-separated column projection")
	dfCmd.Flags().StringVar(&dfSQL, "sql", "", "raw SQL passthrough")
	dfCmd.Flags().StringVar(&dfText2SQL, "text2sql", "", "natural-language query (requires a configured translator)")
	dfCmd.Flags().StringVar(&dfGroupBy, "group-by", "", "comma-separated group-by columns for --aggregate")
	dfCmd.Flags().StringArrayVar(&dfAggregate, "aggregate", nil, "reducer 'func(col)' (sum, avg, min, max, count), may repeat")
	dfCmd.Flags().StringVarP(&dfOut, "output", "o", "", "write result to this file instead of stdout")

	var addJSON string
	addRow := NewRepoCommand("add-row <path>", "Stage an appended row", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("add-row requires exactly one path")
		}
		rel, err := repoRelPath(r, args[0])
		if err != nil {
			return err
		}
		branch, commitID, err := currentBranchID(r)
		if err != nil {
			return err
		}
		var row tabular.Row
		if err := json.Unmarshal([]byte(addJSON), &row); err != nil {
			return fmt.Errorf("invalid --json fragment: %w", err)
		}
		engine := tabular.New(r)
		defer engine.Close()
		id, err := engine.Append(rel, branch, commitID, row)
		if err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		if err := stageExport(r, engine, sm, rel, branch, commitID); err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
	addRow.Flags().StringVar(&addJSON, "json", "", "JSON object for the new row")

	var rmID string
	rmRow := NewRepoCommand("rm-row <path>", "Stage a row deletion by _oxen_id", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("rm-row requires exactly one path")
		}
		rel, err := repoRelPath(r, args[0])
		if err != nil {
			return err
		}
		branch, commitID, err := currentBranchID(r)
		if err != nil {
			return err
		}
		engine := tabular.New(r)
		defer engine.Close()
		if err := engine.Delete(rel, branch, commitID, rmID); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})
	rmRow.Flags().StringVar(&rmID, "id", "", "_oxen_id of the row to delete")

	var updateID, updateJSON string
	updateRow := NewRepoCommand("update-row <path>", "Stage a row modification by _oxen_id", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("update-row requires exactly one path")
		}
		rel, err := repoRelPath(r, args[0])
		if err != nil {
			return err
		}
		branch, commitID, err := currentBranchID(r)
		if err != nil {
			return err
		}
		var patch tabular.Row
		if err := json.Unmarshal([]byte(updateJSON), &patch); err != nil {
			return fmt.Errorf("invalid --json fragment: %w", err)
		}
		engine := tabular.New(r)
		defer engine.Close()
		if err := engine.Modify(rel, branch, commitID, updateID, patch); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})
	updateRow.Flags().StringVar(&updateID, "id", "", "_oxen_id of the row to modify")
	updateRow.Flags().StringVar(&updateJSON, "json", "", "JSON object of columns to set")

	dfCmd.AddCommand(addRow, rmRow, updateRow)
	rootCmd.AddCommand(dfCmd)
}

func writeQueryResult(result *tabular.QueryResult, out string) error {
	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		if strings.EqualFold(filepath.Ext(out), ".csv") {
			cw := csv.NewWriter(f)
			cw.Write(result.Columns)
			for _, row := range result.Rows {
				rec := make([]string, len(result.Columns))
				for i, c := range result.Columns {
					rec[i] = fmt.Sprintf("%v", row[c])
				}
				cw.Write(rec)
			}
			cw.Flush()
			return cw.Error()
		}
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
