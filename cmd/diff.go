package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/diffengine"
	"github.com/NahomAnteneh/oxen/internal/objects"
	"github.com/NahomAnteneh/oxen/internal/ohash"
	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/tabular"
)

var (
	diffKeys string
	diffOut  string
)

// resolveTreeRoot resolves rev to a commit's root tree hash, accepting a
// branch name or a commit id.
func resolveTreeRoot(r *repo.Repository, rev string) (ohash.Hash128, error) {
	if id, err := ohash.ParseHash128(rev); err == nil {
		if c, ok, err := r.Commits.Get(id); err == nil && ok {
			return c.RootTreeHash, nil
		}
	}
	id, ok, err := r.Refs.GetBranch(rev)
	if err != nil {
		return ohash.Hash128{}, err
	}
	if !ok {
		return ohash.Hash128{}, fmt.Errorf("unknown revision: %s", rev)
	}
	c, ok, err := r.Commits.Get(id)
	if err != nil || !ok {
		return ohash.Hash128{}, fmt.Errorf("commit not found for %s", rev)
	}
	return c.RootTreeHash, nil
}

// readAtRevision reads path's content as of rev's tree, or the current
// working tree content when rev is "".
func readAtRevision(r *repo.Repository, rel, rev string) ([]byte, bool, error) {
	if rev == "" {
		data, err := os.ReadFile(filepath.Join(r.Root, filepath.FromSlash(rel)))
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return data, err == nil, err
	}
	root, err := resolveTreeRoot(r, rev)
	if err != nil {
		return nil, false, err
	}
	child, err := objects.Lookup(r.Nodes, root, rel)
	if err != nil {
		return nil, false, err
	}
	if child == nil || child.Kind != objects.EntryFile {
		return nil, false, nil
	}
	fileNode, err := r.Nodes.GetFile(child.Hash)
	if err != nil {
		return nil, false, err
	}
	data, err := r.Objects.ReadAll(fileNode.ContentHash, fileNode.Ext)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func init() {
	c := NewRepoCommand("diff <path> [rev1] [rev2]", "Show the difference between two revisions of a path (HEAD and the working tree by default)", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args) > 3 {
			return fmt.Errorf("diff requires a path and up to two revisions")
		}
		rel, err := repoRelPath(r, args[0])
		if err != nil {
			return err
		}
		var leftRev, rightRev string
		switch len(args) {
		case 2:
			leftRev = args[1]
		case 3:
			leftRev, rightRev = args[1], args[2]
		default:
			leftRev = "HEAD"
		}
		if leftRev == "HEAD" {
			leftRev, _, err = r.Refs.Head()
			if err != nil {
				return err
			}
		}

		leftData, leftExists, err := readAtRevision(r, rel, leftRev)
		if err != nil {
			return err
		}
		rightData, rightExists, err := readAtRevision(r, rel, rightRev)
		if err != nil {
			return err
		}
		if !leftExists && !rightExists {
			return fmt.Errorf("%s does not exist at either revision", args[0])
		}

		if _, err := tabular.FormatFor(rel); err == nil {
			return diffTabular(rel, leftData, rightData, diffKeys, diffOut)
		}
		return diffText(leftData, rightData)
	})
	c.Flags().StringVar(&diffKeys, "keys", "", "comma-separated key columns for tabular diff (when unset, rows are matched by position; declared primary keys are not consulted)")
	c.Flags().StringVarP(&diffOut, "output", "o", "", "write the tabular diff's contents frame to this file instead of stdout")
	rootCmd.AddCommand(c)
}

func diffText(left, right []byte) error {
	lines := diffengine.TextDiff(string(left), string(right))
	for _, l := range lines {
		switch l.Status {
		case diffengine.LineAdded:
			color.Green("+%s", l.Content)
		case diffengine.LineRemoved:
			color.Red("-%s", l.Content)
		default:
			fmt.Printf(" %s\n", l.Content)
		}
	}
	return nil
}

func diffTabular(rel string, left, right []byte, keys, out string) error {
	format, err := tabular.FormatFor(rel)
	if err != nil {
		return err
	}
	leftCols, leftRows, err := importTemp(format, rel, left)
	if err != nil {
		return err
	}
	rightCols, rightRows, err := importTemp(format, rel, right)
	if err != nil {
		return err
	}
	var keyCols []string
	if keys != "" {
		keyCols = strings.Split(keys, ",")
	}
	result, err := tabular.Diff(leftCols, leftRows, rightCols, rightRows, keyCols)
	if err != nil {
		return err
	}
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Printf("added=%d removed=%d modified=%d\n", result.RowCounts.Added, result.RowCounts.Removed, result.RowCounts.Modified)
	if len(result.Schema.Changes.Added) > 0 || len(result.Schema.Changes.Removed) > 0 {
		fmt.Printf("columns added=%v removed=%v\n", result.Schema.Changes.Added, result.Schema.Changes.Removed)
	}
	return nil
}

func importTemp(format tabular.Format, rel string, data []byte) ([]string, []tabular.Row, error) {
	if data == nil {
		return nil, nil, nil
	}
	tmp, err := os.CreateTemp("", "oxen-diff-*"+filepath.Ext(rel))
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, nil, err
	}
	tmp.Close()
	return format.Import(tmp.Name())
}
