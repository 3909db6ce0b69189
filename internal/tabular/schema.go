package tabular

import (
	"fmt"

	"github.com/NahomAnteneh/oxen/internal/objects"
)

// RenameColumn renames a column in the indexed session, used by the
// `schemas name` CLI command.
func (e *Engine) RenameColumn(relPath, branch, commitID, oldName, newName string) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	found := -1
	for i, c := range s.columns {
		if c == oldName {
			found = i
		}
		if c == newName {
			return fmt.Errorf("column %q already exists", newName)
		}
	}
	if found < 0 {
		return fmt.Errorf("column not found: %s", oldName)
	}
	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE data RENAME COLUMN %q TO %q", oldName, newName)); err != nil {
		return fmt.Errorf("failed to rename column %s to %s: %w", oldName, newName, err)
	}
	if _, err := s.db.Exec(`UPDATE _oxen_field_meta SET column = ? WHERE column = ?`, newName, oldName); err != nil {
		return fmt.Errorf("failed to rename column metadata: %w", err)
	}
	s.columns[found] = newName
	return nil
}

// SetFieldMetadata attaches a key/value metadata tag to column, used by
// `schemas add-metadata` and `schemas add-column-metadata`.
func (e *Engine) SetFieldMetadata(relPath, branch, commitID, column, key, value string) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO _oxen_field_meta (column, key, value) VALUES (?, ?, ?)
		ON CONFLICT(column, key) DO UPDATE SET value = excluded.value`, column, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %s=%s on column %s: %w", key, value, column, err)
	}
	return nil
}

// ClearFieldMetadata removes one metadata key from column, or every key
// if key is empty, used by `schemas rm`.
func (e *Engine) ClearFieldMetadata(relPath, branch, commitID, column, key string) error {
	s, err := e.ensure(relPath, branch, commitID)
	if err != nil {
		return err
	}
	if key == "" {
		_, err = s.db.Exec(`DELETE FROM _oxen_field_meta WHERE column = ?`, column)
	} else {
		_, err = s.db.Exec(`DELETE FROM _oxen_field_meta WHERE column = ? AND key = ?`, column, key)
	}
	if err != nil {
		return fmt.Errorf("failed to clear metadata for column %s: %w", column, err)
	}
	return nil
}

// fieldMetadata returns every column's metadata tag map, keyed by
// column name, used by schemaOfSession.
func (e *Engine) fieldMetadata(s *session) (map[string]map[string]string, error) {
	rows, err := s.db.Query(`SELECT column, key, value FROM _oxen_field_meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to read field metadata: %w", err)
	}
	defer rows.Close()
	out := make(map[string]map[string]string)
	for rows.Next() {
		var column, key, value string
		if err := rows.Scan(&column, &key, &value); err != nil {
			return nil, err
		}
		if out[column] == nil {
			out[column] = make(map[string]string)
		}
		out[column][key] = value
	}
	return out, rows.Err()
}

// schemaOfSession builds the Merkle-tree Schema for an already-open
// session, attaching any declared field metadata.
func (e *Engine) schemaOfSession(s *session) (*objects.Schema, error) {
	meta, err := e.fieldMetadata(s)
	if err != nil {
		return nil, err
	}
	fields := make([]objects.Field, len(s.columns))
	for i, c := range s.columns {
		fields[i] = objects.Field{Name: c, Dtype: "string", Metadata: meta[c]}
	}
	return &objects.Schema{Fields: fields}, nil
}
