package connector

import "github.com/saks635/NL2SQL-Convertor/internal/model"

// ColumnRow is one column as read from an information_schema style catalog.
type ColumnRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	IsNullable string `db:"is_nullable"`
}

// KeyRow names one primary key column.
type KeyRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
}

// ForeignKeyRow is one column of a foreign key constraint.
type ForeignKeyRow struct {
	TableName        string `db:"table_name"`
	ColumnName       string `db:"column_name"`
	ReferencedTable  string `db:"referenced_table"`
	ReferencedColumn string `db:"referenced_column"`
}

// AssembleSchema builds a Schema from flat catalog rows. Tables keep the
// order of tables; columns keep the order of cols. mapType translates the
// native data type.
func AssembleSchema(tables []string, cols []ColumnRow, pks []KeyRow, fks []ForeignKeyRow, mapType func(string) model.ColumnType) *model.Schema {
	pkSet := make(map[[2]string]bool, len(pks))
	for _, pk := range pks {
		pkSet[[2]string{pk.TableName, pk.ColumnName}] = true
	}

	colMap := make(map[string][]model.Column)
	for _, col := range cols {
		isPK := pkSet[[2]string{col.TableName, col.ColumnName}]
		colMap[col.TableName] = append(colMap[col.TableName], model.Column{
			Name:         col.ColumnName,
			Type:         mapType(col.DataType),
			NativeType:   col.DataType,
			IsPrimaryKey: isPK,
			IsNullable:   !isPK && (col.IsNullable == "YES" || col.IsNullable == "true"),
		})
	}

	fkMap := make(map[string][]model.ForeignKey)
	for _, fk := range fks {
		fkMap[fk.TableName] = append(fkMap[fk.TableName], model.ForeignKey{
			Column:           fk.ColumnName,
			ReferencedTable:  fk.ReferencedTable,
			ReferencedColumn: fk.ReferencedColumn,
		})
	}

	schema := &model.Schema{Tables: make([]model.Table, 0, len(tables))}
	for _, name := range tables {
		t := model.Table{
			Name:        name,
			Columns:     colMap[name],
			ForeignKeys: fkMap[name],
		}
		if t.Columns == nil {
			t.Columns = []model.Column{}
		}
		if t.ForeignKeys == nil {
			t.ForeignKeys = []model.ForeignKey{}
		}
		schema.Tables = append(schema.Tables, t)
	}
	return schema
}
