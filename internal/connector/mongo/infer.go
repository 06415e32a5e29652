package mongo

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// sampledField accumulates what the sample said about one flattened path.
type sampledField struct {
	path     string
	typ      model.ColumnType
	native   string
	seen     int
	nullSeen bool
}

// inferTable derives a table from sampled documents. Nested documents are
// flattened with "_" between path segments. A path observed with more than
// one type, or as a document in one sample and a scalar in another, becomes
// OTHER ("mixed"). Two paths flattening to one column name keep the first
// path and mark the column OTHER ("conflict"). The returned map takes
// column names back to document paths.
func inferTable(name string, docs []bson.D) (model.Table, map[string]string) {
	fields := map[string]*sampledField{}
	var order []string
	nested := map[string]bool{}

	var walk func(prefix string, doc bson.D)
	walk = func(prefix string, doc bson.D) {
		for _, e := range doc {
			path := e.Key
			if prefix != "" {
				path = prefix + "." + e.Key
			}
			if sub, ok := asDocument(e.Value); ok {
				nested[path] = true
				walk(path, sub)
				continue
			}
			f, ok := fields[path]
			if !ok {
				f = &sampledField{path: path}
				fields[path] = f
				order = append(order, path)
			}
			f.seen++
			if e.Value == nil {
				f.nullSeen = true
				continue
			}
			typ, native := bsonType(e.Value)
			switch {
			case f.typ == "":
				f.typ, f.native = typ, native
			case f.typ != typ:
				f.typ, f.native = model.TypeOther, "mixed"
			}
		}
	}
	for _, d := range docs {
		walk("", d)
	}

	for path, f := range fields {
		if nested[path] {
			f.typ, f.native = model.TypeOther, "mixed"
		}
	}

	if _, ok := fields["_id"]; !ok {
		fields["_id"] = &sampledField{path: "_id", typ: model.TypeOther, seen: len(docs)}
		order = append(order, "_id")
	}

	table := model.Table{Name: name, ForeignKeys: []model.ForeignKey{}, SchemaInferred: true}
	paths := make(map[string]string, len(order))
	index := make(map[string]int, len(order))

	add := func(f *sampledField) {
		col := strings.ReplaceAll(f.path, ".", "_")
		if i, dup := index[col]; dup {
			c := &table.Columns[i]
			c.Type, c.NativeType = model.TypeOther, "conflict"
			c.IsNullable = !c.IsPrimaryKey
			return
		}
		paths[col] = f.path
		index[col] = len(table.Columns)
		typ := f.typ
		if typ == "" {
			typ = model.TypeOther
		}
		isPK := f.path == "_id"
		table.Columns = append(table.Columns, model.Column{
			Name:         col,
			Type:         typ,
			NativeType:   f.native,
			IsPrimaryKey: isPK,
			IsNullable:   !isPK && (f.nullSeen || f.seen < len(docs)),
		})
	}
	add(fields["_id"])
	for _, path := range order {
		if path != "_id" {
			add(fields[path])
		}
	}
	return table, paths
}

func asDocument(v any) (bson.D, bool) {
	switch x := v.(type) {
	case bson.D:
		return x, true
	case bson.M:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(x))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: x[k]})
		}
		return d, true
	}
	return nil, false
}

// bsonType maps a decoded BSON value to a canonical type and the BSON type
// name.
func bsonType(v any) (model.ColumnType, string) {
	switch v.(type) {
	case primitive.ObjectID:
		return model.TypeText, "objectId"
	case string:
		return model.TypeText, "string"
	case int32:
		return model.TypeInteger, "int"
	case int64:
		return model.TypeInteger, "long"
	case float64:
		return model.TypeReal, "double"
	case primitive.Decimal128:
		return model.TypeReal, "decimal"
	case bool:
		return model.TypeBoolean, "bool"
	case primitive.DateTime:
		return model.TypeDatetime, "date"
	case primitive.Timestamp:
		return model.TypeDatetime, "timestamp"
	case primitive.Binary:
		return model.TypeBlob, "binData"
	case bson.A:
		return model.TypeOther, "array"
	default:
		return model.TypeOther, "other"
	}
}
