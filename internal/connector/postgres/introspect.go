package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// IntrospectSchema returns the tables and views of the configured schema.
func (c *PostgresConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	const tablesQuery = `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	var tables []string
	if err := c.DB.SelectContext(ctx, &tables, tablesQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	// udt_name carries the real type for USER-DEFINED and ARRAY columns.
	const columnsQuery = `SELECT
			c.table_name,
			c.column_name,
			CASE WHEN c.data_type IN ('USER-DEFINED', 'ARRAY') THEN c.udt_name ELSE c.data_type END AS data_type,
			c.is_nullable
		FROM information_schema.columns c
		WHERE c.table_schema = $1
		ORDER BY c.table_name, c.ordinal_position`

	var cols []connector.ColumnRow
	if err := c.DB.SelectContext(ctx, &cols, columnsQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	const pkQuery = `SELECT kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.ordinal_position`

	var pks []connector.KeyRow
	if err := c.DB.SelectContext(ctx, &pks, pkQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}

	const fkQuery = `SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
		ORDER BY tc.table_name, kcu.ordinal_position`

	var fks []connector.ForeignKeyRow
	if err := c.DB.SelectContext(ctx, &fks, fkQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	schema := connector.AssembleSchema(tables, cols, pks, fks, mapPostgresType)
	schema.Namespace = c.schemaName
	return schema, nil
}

// mapPostgresType maps a PostgreSQL data type (or UDT name) to the
// canonical type.
func mapPostgresType(dataType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "int2", "int4", "int8", "smallserial", "serial", "bigserial":
		return model.TypeInteger
	case "real", "double precision", "numeric", "decimal", "float4", "float8", "money":
		return model.TypeReal
	case "character varying", "varchar", "character", "char", "bpchar", "text", "name", "citext":
		return model.TypeText
	case "boolean", "bool":
		return model.TypeBoolean
	case "timestamp without time zone", "timestamp with time zone", "timestamp", "timestamptz", "date":
		return model.TypeDatetime
	case "bytea":
		return model.TypeBlob
	default:
		// uuid, json, arrays, geometric, network and user-defined types
		return model.TypeOther
	}
}
