package duckdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// IntrospectSchema reads tables and columns from information_schema and keys
// from duckdb_constraints(). List-valued constraint columns are unnested in
// SQL so rows scan into the shared row types.
func (c *DuckDBConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	var tables []string
	err := c.DB.SelectContext(ctx, &tables, `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	var cols []connector.ColumnRow
	err = c.DB.SelectContext(ctx, &cols, `SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ?
		ORDER BY table_name, ordinal_position`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	var pks []connector.KeyRow
	err = c.DB.SelectContext(ctx, &pks, `SELECT table_name, UNNEST(constraint_column_names) AS column_name
		FROM duckdb_constraints()
		WHERE constraint_type = 'PRIMARY KEY' AND schema_name = ?`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}

	var fks []connector.ForeignKeyRow
	err = c.DB.SelectContext(ctx, &fks, `SELECT
			table_name,
			UNNEST(constraint_column_names) AS column_name,
			referenced_table,
			UNNEST(referenced_column_names) AS referenced_column
		FROM duckdb_constraints()
		WHERE constraint_type = 'FOREIGN KEY' AND schema_name = ?`, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	schema := connector.AssembleSchema(tables, cols, pks, fks, mapDuckDBType)
	schema.Namespace = c.schemaName
	schema.CaseInsensitive = true
	return schema, nil
}

// mapDuckDBType maps a DuckDB logical type name to the canonical type.
func mapDuckDBType(dataType string) model.ColumnType {
	upper := strings.ToUpper(dataType)
	if i := strings.IndexByte(upper, '('); i >= 0 {
		upper = upper[:i]
	}
	switch strings.TrimSpace(upper) {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "UHUGEINT":
		return model.TypeInteger
	case "FLOAT", "DOUBLE", "DECIMAL", "REAL":
		return model.TypeReal
	case "VARCHAR", "TEXT", "CHAR", "BPCHAR", "STRING", "ENUM":
		return model.TypeText
	case "BOOLEAN":
		return model.TypeBoolean
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMP WITH TIME ZONE",
		"TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return model.TypeDatetime
	case "BLOB", "BYTEA":
		return model.TypeBlob
	default:
		// UUID, INTERVAL, LIST, STRUCT, MAP, UNION
		return model.TypeOther
	}
}
