package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// TypeMapping is the OpenAPI type/format pair a normalized column type
// travels as in an execution result.
type TypeMapping struct {
	Type   string // OpenAPI type: string, integer, number, boolean
	Format string // OpenAPI format: int64, double, date-time, byte
}

// columnTypes lists the normalized column types in declaration order.
var columnTypes = []model.ColumnType{
	model.TypeInteger,
	model.TypeReal,
	model.TypeText,
	model.TypeBoolean,
	model.TypeDatetime,
	model.TypeBlob,
	model.TypeOther,
}

var cellTypes = map[model.ColumnType]TypeMapping{
	model.TypeInteger:  {"integer", "int64"},
	model.TypeReal:     {"number", "double"},
	model.TypeText:     {"string", ""},
	model.TypeBoolean:  {"boolean", ""},
	model.TypeDatetime: {"string", "date-time"},
	model.TypeBlob:     {"string", "byte"},
	model.TypeOther:    {"string", ""},
}

// MapColumnType returns how values of a column type are encoded in result
// rows. Unknown types travel as strings.
func MapColumnType(t model.ColumnType) TypeMapping {
	if m, ok := cellTypes[t]; ok {
		return m
	}
	return TypeMapping{Type: "string"}
}

// columnTypeSchema is the enum of normalized column type names.
func columnTypeSchema() *openapi3.SchemaRef {
	enum := make([]any, 0, len(columnTypes))
	for _, t := range columnTypes {
		enum = append(enum, string(t))
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Enum:        enum,
		Description: "Normalized column type.",
	}}
}

// cellSchema describes one value of a result row: any of the encodings the
// column types map to, or null.
func cellSchema() *openapi3.SchemaRef {
	seen := map[TypeMapping]bool{}
	var oneOf openapi3.SchemaRefs
	for _, t := range columnTypes {
		m := MapColumnType(t)
		if seen[m] {
			continue
		}
		seen[m] = true
		oneOf = append(oneOf, &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:   &openapi3.Types{m.Type},
			Format: m.Format,
		}})
	}
	oneOf = append(oneOf, &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"null"}}})
	return &openapi3.SchemaRef{Value: &openapi3.Schema{OneOf: oneOf}}
}
