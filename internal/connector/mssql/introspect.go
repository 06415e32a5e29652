package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// IntrospectSchema returns the tables and views of the configured schema.
func (c *MSSQLConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	const tablesQuery = `SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		ORDER BY TABLE_NAME`

	var tables []string
	if err := c.DB.SelectContext(ctx, &tables, tablesQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	const columnsQuery = `SELECT
			c.TABLE_NAME AS table_name,
			c.COLUMN_NAME AS column_name,
			c.DATA_TYPE AS data_type,
			c.IS_NULLABLE AS is_nullable
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = @p1
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

	var cols []connector.ColumnRow
	if err := c.DB.SelectContext(ctx, &cols, columnsQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	const pkQuery = `SELECT kcu.TABLE_NAME AS table_name, kcu.COLUMN_NAME AS column_name
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND tc.TABLE_SCHEMA = @p1
		ORDER BY kcu.TABLE_NAME, kcu.ORDINAL_POSITION`

	var pks []connector.KeyRow
	if err := c.DB.SelectContext(ctx, &pks, pkQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}

	const fkQuery = `SELECT
			fk_tab.name AS table_name,
			fk_col.name AS column_name,
			pk_tab.name AS referenced_table,
			pk_col.name AS referenced_column
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.tables fk_tab ON fkc.parent_object_id = fk_tab.object_id
		JOIN sys.columns fk_col ON fkc.parent_object_id = fk_col.object_id AND fkc.parent_column_id = fk_col.column_id
		JOIN sys.tables pk_tab ON fkc.referenced_object_id = pk_tab.object_id
		JOIN sys.columns pk_col ON fkc.referenced_object_id = pk_col.object_id AND fkc.referenced_column_id = pk_col.column_id
		JOIN sys.schemas s ON fk_tab.schema_id = s.schema_id
		WHERE s.name = @p1
		ORDER BY fk_tab.name, fkc.constraint_column_id`

	var fks []connector.ForeignKeyRow
	if err := c.DB.SelectContext(ctx, &fks, fkQuery, c.schemaName); err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	schema := connector.AssembleSchema(tables, cols, pks, fks, mapMSSQLType)
	schema.Namespace = c.schemaName
	schema.CaseInsensitive = true
	return schema, nil
}

// mapMSSQLType maps a SQL Server data type to the canonical type.
func mapMSSQLType(dataType string) model.ColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int", "bigint":
		return model.TypeInteger
	case "float", "real", "decimal", "numeric", "money", "smallmoney":
		return model.TypeReal
	case "varchar", "nvarchar", "char", "nchar", "text", "ntext":
		return model.TypeText
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "date":
		return model.TypeDatetime
	case "bit":
		return model.TypeBoolean
	case "varbinary", "binary", "image":
		return model.TypeBlob
	default:
		// time, uniqueidentifier, xml, sql_variant, hierarchyid, spatial
		return model.TypeOther
	}
}
