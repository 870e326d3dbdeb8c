package models

import (
	"fmt"
	"strings"
)

// ColumnType is the logical type of a warehouse column.
type ColumnType string

const (
	ColumnString    ColumnType = "string"
	ColumnInt       ColumnType = "int"
	ColumnFloat     ColumnType = "float"
	ColumnBool      ColumnType = "bool"
	ColumnDate      ColumnType = "date"
	ColumnTimestamp ColumnType = "timestamp"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnInt, ColumnFloat, ColumnBool, ColumnDate, ColumnTimestamp:
		return true
	}
	return false
}

// LoadedAtColumn is the audit column every target carries. It defaults to the
// load timestamp and is never written by fetchers.
const LoadedAtColumn = "_loaded_at"

// Column describes one table column.
type Column struct {
	Name string     `yaml:"name" json:"name"`
	Type ColumnType `yaml:"type" json:"type"`
}

// Table describes a warehouse target table.
type Table struct {
	Database string   `yaml:"database" json:"database"`
	Schema   string   `yaml:"schema" json:"schema"`
	Name     string   `yaml:"name" json:"name"`
	Columns  []Column `yaml:"columns" json:"columns"`

	// Keys is the natural key used to match rows during a merge.
	Keys []string `yaml:"keys" json:"keys"`

	// BoundaryColumn holds the date that drives incremental watermarks.
	BoundaryColumn string `yaml:"boundary_column" json:"boundary_column"`

	// EntityColumn, when set, partitions watermarks (e.g. one per ticker).
	EntityColumn string `yaml:"entity_column" json:"entity_column"`
}

// FQN returns the fully qualified DATABASE.SCHEMA.NAME identifier, omitting
// empty leading parts.
func (t *Table) FQN() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// ColumnNames returns the names of the declared columns in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by case-insensitive name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// NonKeyColumns returns the entries of cols that are not part of keys.
func NonKeyColumns(cols, keys []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		isKey := false
		for _, k := range keys {
			if strings.EqualFold(c, k) {
				isKey = true
				break
			}
		}
		if !isKey {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks that keys, boundary and entity refer to declared columns.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s declares no columns", t.FQN())
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return fmt.Errorf("table %s declares column %s twice", t.FQN(), c.Name)
		}
		seen[lower] = true
		if !c.Type.Valid() {
			return fmt.Errorf("table %s column %s has unknown type %q", t.FQN(), c.Name, c.Type)
		}
	}
	for _, k := range t.Keys {
		if !seen[strings.ToLower(k)] {
			return fmt.Errorf("table %s key %s is not a declared column", t.FQN(), k)
		}
	}
	for _, ref := range []string{t.BoundaryColumn, t.EntityColumn} {
		if ref != "" && !seen[strings.ToLower(ref)] {
			return fmt.Errorf("table %s references undeclared column %s", t.FQN(), ref)
		}
	}
	return nil
}

// StagingArea is a transient, uniquely named table holding rows for exactly
// one merge. It is owned by the merge call that created it.
type StagingArea struct {
	Name  string
	Table *Table
	Rows  int64
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	RowsProcessed int64 `json:"rows_processed"`
}
