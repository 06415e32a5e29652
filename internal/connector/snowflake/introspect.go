package snowflake

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// IntrospectSchema returns the tables and views of the configured schema.
func (c *SnowflakeConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	const tablesQuery = `SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`

	var tables []string
	if err := c.DB.SelectContext(ctx, &tables, tablesQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	// Snowflake reports every integer type as NUMBER with scale 0.
	const columnsQuery = `SELECT
			TABLE_NAME AS "table_name",
			COLUMN_NAME AS "column_name",
			CASE WHEN DATA_TYPE = 'NUMBER' AND NUMERIC_SCALE = 0 THEN 'INTEGER' ELSE DATA_TYPE END AS "data_type",
			IS_NULLABLE AS "is_nullable"
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	var cols []connector.ColumnRow
	if err := c.DB.SelectContext(ctx, &cols, columnsQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	// Constraint metadata is only exposed through SHOW commands.
	pkRows, err := c.show(ctx, "PRIMARY KEYS")
	if err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}
	pks := make([]connector.KeyRow, 0, len(pkRows))
	for _, row := range pkRows {
		pks = append(pks, connector.KeyRow{
			TableName:  text(row["table_name"]),
			ColumnName: text(row["column_name"]),
		})
	}

	fkRows, err := c.show(ctx, "IMPORTED KEYS")
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	fks := make([]connector.ForeignKeyRow, 0, len(fkRows))
	for _, row := range fkRows {
		fks = append(fks, connector.ForeignKeyRow{
			TableName:        text(row["fk_table_name"]),
			ColumnName:       text(row["fk_column_name"]),
			ReferencedTable:  text(row["pk_table_name"]),
			ReferencedColumn: text(row["pk_column_name"]),
		})
	}

	schema := connector.AssembleSchema(tables, cols, pks, fks, mapSnowflakeType)
	schema.Namespace = c.schemaName
	return schema, nil
}

// show runs SHOW <what> IN SCHEMA and returns the rows keyed by lower-case
// column name.
func (c *SnowflakeConnector) show(ctx context.Context, what string) ([]map[string]any, error) {
	query := fmt.Sprintf("SHOW %s IN SCHEMA %s", what, c.QuoteIdentifier(c.schemaName))
	rows, err := c.DB.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		raw := make(map[string]any)
		if err := rows.MapScan(raw); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(raw))
		for k, v := range raw {
			row[strings.ToLower(k)] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// mapSnowflakeType maps a Snowflake data type to the canonical type.
func mapSnowflakeType(dataType string) model.ColumnType {
	switch t := strings.ToUpper(dataType); {
	case t == "INTEGER":
		return model.TypeInteger
	case t == "NUMBER", t == "DECIMAL", t == "NUMERIC", t == "FLOAT", t == "DOUBLE", t == "REAL":
		return model.TypeReal
	case t == "TEXT", t == "VARCHAR", t == "CHAR", t == "STRING":
		return model.TypeText
	case t == "BOOLEAN":
		return model.TypeBoolean
	case t == "DATE", strings.HasPrefix(t, "TIMESTAMP"):
		return model.TypeDatetime
	case t == "BINARY", t == "VARBINARY":
		return model.TypeBlob
	default:
		// VARIANT, OBJECT, ARRAY, GEOGRAPHY, TIME
		return model.TypeOther
	}
}
