package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// columnRow holds the result of querying information_schema.columns.
type columnRow struct {
	TableName  string `db:"TABLE_NAME"`
	ColumnName string `db:"COLUMN_NAME"`
	DataType   string `db:"DATA_TYPE"`
	ColumnType string `db:"COLUMN_TYPE"`
	IsNullable string `db:"IS_NULLABLE"`
}

// tableRow holds the result of querying information_schema.tables.
type tableRow struct {
	TableName string `db:"TABLE_NAME"`
	TableType string `db:"TABLE_TYPE"`
}

// pkRow holds a primary key column mapping.
type pkRow struct {
	TableName  string `db:"TABLE_NAME"`
	ColumnName string `db:"COLUMN_NAME"`
}

// fkRow holds a foreign key relationship.
type fkRow struct {
	TableName        string `db:"TABLE_NAME"`
	ColumnName       string `db:"COLUMN_NAME"`
	ReferencedTable  string `db:"REFERENCED_TABLE_NAME"`
	ReferencedColumn string `db:"REFERENCED_COLUMN_NAME"`
}

// IntrospectSchema returns the tables and views of the selected database.
func (c *MySQLConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	tables, err := c.fetchTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}
	columns, err := c.fetchColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	pks, err := c.fetchPrimaryKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}
	fks, err := c.fetchForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}

	// table_name -> set of pk column names
	pkMap := make(map[string]map[string]bool)
	for _, pk := range pks {
		if pkMap[pk.TableName] == nil {
			pkMap[pk.TableName] = make(map[string]bool)
		}
		pkMap[pk.TableName][pk.ColumnName] = true
	}

	fkMap := make(map[string][]model.ForeignKey)
	for _, fk := range fks {
		fkMap[fk.TableName] = append(fkMap[fk.TableName], model.ForeignKey{
			Column:           fk.ColumnName,
			ReferencedTable:  fk.ReferencedTable,
			ReferencedColumn: fk.ReferencedColumn,
		})
	}

	colMap := make(map[string][]model.Column)
	for _, col := range columns {
		isPK := pkMap[col.TableName][col.ColumnName]
		colMap[col.TableName] = append(colMap[col.TableName], model.Column{
			Name:         col.ColumnName,
			Type:         mapMySQLType(col.DataType, col.ColumnType),
			NativeType:   col.ColumnType,
			IsPrimaryKey: isPK,
			IsNullable:   col.IsNullable == "YES",
		})
	}

	schema := &model.Schema{
		Namespace:       c.schemaName,
		CaseInsensitive: true,
		Tables:          make([]model.Table, 0, len(tables)),
	}
	for _, t := range tables {
		table := model.Table{
			Name:        t.TableName,
			Columns:     colMap[t.TableName],
			ForeignKeys: fkMap[t.TableName],
		}
		if table.Columns == nil {
			table.Columns = []model.Column{}
		}
		if table.ForeignKeys == nil {
			table.ForeignKeys = []model.ForeignKey{}
		}
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

// --- internal fetch helpers ---

func (c *MySQLConnector) fetchTables(ctx context.Context) ([]tableRow, error) {
	const query = `SELECT TABLE_NAME, TABLE_TYPE
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`

	var rows []tableRow
	if err := c.DB.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchColumns(ctx context.Context) ([]columnRow, error) {
	const query = `SELECT
			c.TABLE_NAME,
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.COLUMN_TYPE,
			c.IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS c
		WHERE c.TABLE_SCHEMA = ?
		ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

	var rows []columnRow
	if err := c.DB.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchPrimaryKeys(ctx context.Context) ([]pkRow, error) {
	const query = `SELECT TABLE_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`

	var rows []pkRow
	if err := c.DB.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *MySQLConnector) fetchForeignKeys(ctx context.Context) ([]fkRow, error) {
	const query = `SELECT
			kcu.TABLE_NAME,
			kcu.COLUMN_NAME,
			kcu.REFERENCED_TABLE_NAME,
			kcu.REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		WHERE kcu.TABLE_SCHEMA = ?
			AND kcu.REFERENCED_TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY kcu.TABLE_NAME, kcu.ORDINAL_POSITION`

	var rows []fkRow
	if err := c.DB.SelectContext(ctx, &rows, query, c.schemaName); err != nil {
		return nil, err
	}
	return rows, nil
}

// mapMySQLType maps a MySQL data type to the canonical type. tinyint(1) is
// MySQL's boolean.
func mapMySQLType(dataType, columnType string) model.ColumnType {
	lower := strings.ToLower(dataType)

	if lower == "tinyint" && strings.HasPrefix(strings.ToLower(columnType), "tinyint(1)") {
		return model.TypeBoolean
	}

	switch lower {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		return model.TypeInteger
	case "float", "double", "real", "decimal", "numeric":
		return model.TypeReal
	case "varchar", "char", "text", "tinytext", "mediumtext", "longtext", "enum", "set":
		return model.TypeText
	case "datetime", "timestamp", "date":
		return model.TypeDatetime
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return model.TypeBlob
	case "bool", "boolean":
		return model.TypeBoolean
	default:
		// time, bit, json, geometry and friends
		return model.TypeOther
	}
}
