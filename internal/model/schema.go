package model

import (
	"encoding/json"
	"strings"
)

// ColumnType is the normalized type every adapter maps native engine types to.
type ColumnType string

const (
	TypeInteger  ColumnType = "INTEGER"
	TypeReal     ColumnType = "REAL"
	TypeText     ColumnType = "TEXT"
	TypeBoolean  ColumnType = "BOOLEAN"
	TypeDatetime ColumnType = "DATETIME"
	TypeBlob     ColumnType = "BLOB"
	TypeOther    ColumnType = "OTHER"
)

// Valid reports whether t is one of the normalized column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeInteger, TypeReal, TypeText, TypeBoolean, TypeDatetime, TypeBlob, TypeOther:
		return true
	}
	return false
}

// Schema is the canonical, engine-independent description of a database.
// It is built fresh for every request and not mutated after it is returned.
// It serializes as an ordered JSON array of tables.
type Schema struct {
	Tables []Table

	// Driver names the adapter the schema was read from; the prompt uses it
	// to pick the SQL dialect.
	Driver string

	// Namespace is the database or schema name unqualified table names
	// resolve in ("main", "public", "dbo", the MySQL database name).
	Namespace string

	// CaseInsensitive is set when the engine compares identifiers without
	// regard to case. Table and column names are already folded to lower case.
	CaseInsensitive bool
}

// Table describes a single table (or collection, for document stores).
type Table struct {
	Name        string       `json:"table_name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`

	// SchemaInferred marks tables whose columns were derived by sampling
	// documents rather than read from a declared schema.
	SchemaInferred bool `json:"schema_inferred,omitempty"`
}

// Column describes a single column within a table.
type Column struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	NativeType   string     `json:"native_type,omitempty"`
	IsPrimaryKey bool       `json:"is_primary_key"`
	IsNullable   bool       `json:"is_nullable"`
}

// ForeignKey is a single-column reference from a table to another table.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// MarshalJSON renders the schema as an ordered list of tables.
func (s Schema) MarshalJSON() ([]byte, error) {
	tables := s.Tables
	if tables == nil {
		tables = []Table{}
	}
	return json.Marshal(tables)
}

// UnmarshalJSON accepts the ordered table list produced by MarshalJSON.
func (s *Schema) UnmarshalJSON(b []byte) error {
	var tables []Table
	if err := json.Unmarshal(b, &tables); err != nil {
		return err
	}
	s.Tables = tables
	return nil
}

// Table returns the table with the given name. An exact match wins;
// otherwise names are compared without regard to case, since unquoted
// names fold on every supported engine.
func (s *Schema) Table(name string) (*Table, bool) {
	var folded *Table
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.Name == name {
			return t, true
		}
		if folded == nil && strings.EqualFold(t.Name, name) {
			folded = t
		}
	}
	return folded, folded != nil
}

// HasTable reports whether the schema contains a table with the given name.
func (s *Schema) HasTable(name string) bool {
	_, ok := s.Table(name)
	return ok
}

// TableNames returns table names in schema order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// PrimaryKey returns the names of the table's primary key columns in
// column order.
func (t *Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Column returns the column with the given name, compared case-insensitively.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}
