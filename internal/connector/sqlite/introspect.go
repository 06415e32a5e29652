package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// tableInfoRow holds a row from PRAGMA table_info().
type tableInfoRow struct {
	CID     int     `db:"cid"`
	Name    string  `db:"name"`
	Type    string  `db:"type"`
	NotNull int     `db:"notnull"`
	Default *string `db:"dflt_value"`
	PK      int     `db:"pk"`
}

// foreignKeyRow holds a row from PRAGMA foreign_key_list().
type foreignKeyRow struct {
	ID       int     `db:"id"`
	Seq      int     `db:"seq"`
	Table    string  `db:"table"`
	From     string  `db:"from"`
	To       *string `db:"to"`
	OnUpdate string  `db:"on_update"`
	OnDelete string  `db:"on_delete"`
	Match    string  `db:"match"`
}

type masterRow struct {
	Name string `db:"name"`
	Type string `db:"type"`
}

// IntrospectSchema returns every table and view in the main database.
// Views are reported as tables since they are queried the same way.
func (c *SQLiteConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	const query = `SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	var rows []masterRow
	if err := c.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}

	schema := &model.Schema{Namespace: "main", Tables: []model.Table{}}
	for _, row := range rows {
		t, err := c.introspectTable(ctx, row.Name)
		if err != nil {
			return nil, fmt.Errorf("introspect table %q: %w", row.Name, err)
		}
		schema.Tables = append(schema.Tables, *t)
	}

	resolveImplicitReferences(schema)
	return schema, nil
}

func (c *SQLiteConnector) introspectTable(ctx context.Context, tableName string) (*model.Table, error) {
	var columns []tableInfoRow
	pragma := fmt.Sprintf("PRAGMA table_info(%s)", c.QuoteIdentifier(tableName))
	if err := c.DB.SelectContext(ctx, &columns, pragma); err != nil {
		return nil, fmt.Errorf("table_info: %w", err)
	}

	t := &model.Table{
		Name:        tableName,
		Columns:     make([]model.Column, 0, len(columns)),
		ForeignKeys: []model.ForeignKey{},
	}
	for _, col := range columns {
		isPK := col.PK > 0
		t.Columns = append(t.Columns, model.Column{
			Name:         col.Name,
			Type:         mapSQLiteType(col.Type),
			NativeType:   col.Type,
			IsPrimaryKey: isPK,
			IsNullable:   col.NotNull == 0 && !isPK,
		})
	}

	var fkRows []foreignKeyRow
	pragma = fmt.Sprintf("PRAGMA foreign_key_list(%s)", c.QuoteIdentifier(tableName))
	if err := c.DB.SelectContext(ctx, &fkRows, pragma); err != nil {
		return nil, fmt.Errorf("foreign_key_list: %w", err)
	}
	for _, fk := range fkRows {
		ref := ""
		if fk.To != nil {
			ref = *fk.To
		}
		t.ForeignKeys = append(t.ForeignKeys, model.ForeignKey{
			Column:           fk.From,
			ReferencedTable:  fk.Table,
			ReferencedColumn: ref,
		})
	}
	return t, nil
}

// resolveImplicitReferences fills in "REFERENCES t" foreign keys, which
// name no column and point at the referenced table's primary key.
func resolveImplicitReferences(schema *model.Schema) {
	for i := range schema.Tables {
		fks := schema.Tables[i].ForeignKeys
		for j := range fks {
			if fks[j].ReferencedColumn != "" {
				continue
			}
			if ref, ok := schema.Table(fks[j].ReferencedTable); ok {
				if pk := ref.PrimaryKey(); len(pk) == 1 {
					fks[j].ReferencedColumn = pk[0]
				}
			}
		}
	}
}

// mapSQLiteType maps a declared SQLite type to the canonical type using the
// affinity rules (https://sqlite.org/datatype3.html), with BOOLEAN and
// DATETIME recognized by name since applications declare them.
func mapSQLiteType(typeName string) model.ColumnType {
	upper := strings.ToUpper(strings.TrimSpace(typeName))

	// Strip parenthesized length/precision (e.g., VARCHAR(255) -> VARCHAR)
	if idx := strings.IndexByte(upper, '('); idx >= 0 {
		upper = strings.TrimSpace(upper[:idx])
	}

	switch {
	case upper == "":
		return model.TypeOther
	case strings.Contains(upper, "BOOL"):
		return model.TypeBoolean
	case strings.Contains(upper, "INT"):
		return model.TypeInteger
	case strings.Contains(upper, "CHAR"),
		strings.Contains(upper, "CLOB"),
		strings.Contains(upper, "TEXT"):
		return model.TypeText
	case strings.Contains(upper, "BLOB"):
		return model.TypeBlob
	case strings.Contains(upper, "REAL"),
		strings.Contains(upper, "FLOA"),
		strings.Contains(upper, "DOUB"),
		strings.Contains(upper, "NUMERIC"),
		strings.Contains(upper, "DECIMAL"):
		return model.TypeReal
	case strings.Contains(upper, "DATE"),
		strings.Contains(upper, "TIME"):
		return model.TypeDatetime
	default:
		return model.TypeOther
	}
}
