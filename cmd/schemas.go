package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NahomAnteneh/oxen/internal/repo"
	"github.com/NahomAnteneh/oxen/internal/tabular"
)

// frameMetadataColumn is the pseudo-column `schemas add-metadata` tags
// whole-frame metadata (e.g. a description) under, since the Merkle
// Schema node has no separate frame-level metadata slot — only a field
// list.
const frameMetadataColumn = "_frame"

func init() {
	root := &cobra.Command{
		Use:   "schemas",
		Short: "Inspect and annotate a tabular file's indexed schema",
	}

	show := NewRepoCommand("show <path>", "Print a tabular file's indexed columns and metadata", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("show requires exactly one path")
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
		if err := engine.Index(rel, branch, commitID); err != nil {
			return err
		}
		schema, ok, err := engine.SchemaOf(rel)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("not indexed")
			return nil
		}
		for _, f := range schema.Fields {
			fmt.Printf("%-24s %-10s %v\n", f.Name, f.Dtype, f.Metadata)
		}
		return nil
	})

	name := NewRepoCommand("name <path> <old-column> <new-column>", "Rename an indexed column", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 3 {
			return fmt.Errorf("name requires <path> <old-column> <new-column>")
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
		if err := engine.RenameColumn(rel, branch, commitID, args[1], args[2]); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})

	rm := NewRepoCommand("rm <path> <column> [key]", "Remove a column's metadata (all keys, or one named key)", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 2 && len(args) != 3 {
			return fmt.Errorf("rm requires <path> <column> [key]")
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
		if err := engine.Index(rel, branch, commitID); err != nil {
			return err
		}
		key := ""
		if len(args) == 3 {
			key = args[2]
		}
		if err := engine.ClearFieldMetadata(rel, branch, commitID, args[1], key); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})

	var addMetaKey, addMetaValue string
	addMetadata := NewRepoCommand("add-metadata <path>", "Attach whole-frame metadata", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("add-metadata requires exactly one path")
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
		if err := engine.Index(rel, branch, commitID); err != nil {
			return err
		}
		if err := engine.SetFieldMetadata(rel, branch, commitID, frameMetadataColumn, addMetaKey, addMetaValue); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})
	addMetadata.Flags().StringVar(&addMetaKey, "key", "", "metadata key")
	addMetadata.Flags().StringVar(&addMetaValue, "value", "", "metadata value")

	var addColMetaKey, addColMetaValue string
	addColumnMetadata := NewRepoCommand("add-column-metadata <path> <column>", "Attach metadata to a single column (e.g. primary_key)", func(r *repo.Repository, cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("add-column-metadata requires <path> <column>")
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
		if err := engine.Index(rel, branch, commitID); err != nil {
			return err
		}
		if err := engine.SetFieldMetadata(rel, branch, commitID, args[1], addColMetaKey, addColMetaValue); err != nil {
			return err
		}
		sm := newStagingManager(r)
		defer sm.Close()
		return stageExport(r, engine, sm, rel, branch, commitID)
	})
	addColumnMetadata.Flags().StringVar(&addColMetaKey, "key", "primary_key", "metadata key")
	addColumnMetadata.Flags().StringVar(&addColMetaValue, "value", "true", "metadata value")

	root.AddCommand(show, name, rm, addMetadata, addColumnMetadata)
	rootCmd.AddCommand(root)
}
