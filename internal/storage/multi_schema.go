// TableSpec and friends live here so the loader and every backend package can
// share them without import cycles.
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them onto its own DDL types.
const (
	TypeBigInt  = "bigint"
	TypeDouble  = "double"
	TypeBoolean = "boolean"
	TypeText    = "text"
)

type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

// PrimaryKeySpec describes a caller-assigned primary key column. Backends
// never generate key values.
type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// References names a table whose primary key this column points at.
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

// IsNullable reports the effective nullability; columns are nullable unless stated.
func (c ColumnSpec) IsNullable() bool { return c.Nullable == nil || *c.Nullable }

// ColumnNames lists the primary key (if any) followed by the columns.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Validate checks the spec for empty names, unknown types and duplicate columns.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	seen := map[string]bool{}
	check := func(name, typ string) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("storage: table %s: empty column name", t.Name)
		}
		if seen[name] {
			return fmt.Errorf("storage: table %s: duplicate column %q", t.Name, name)
		}
		seen[name] = true
		switch typ {
		case TypeBigInt, TypeDouble, TypeBoolean, TypeText:
			return nil
		}
		return fmt.Errorf("storage: table %s: column %s has unsupported type %q", t.Name, name, typ)
	}
	if t.PrimaryKey != nil {
		if err := check(t.PrimaryKey.Name, t.PrimaryKey.Type); err != nil {
			return err
		}
	}
	for _, c := range t.Columns {
		if err := check(c.Name, c.Type); err != nil {
			return err
		}
	}
	return nil
}
