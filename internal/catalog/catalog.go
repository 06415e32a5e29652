// Package catalog turns adapter introspection into the canonical schema the
// prompt composer and validator work from.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// Options tune Build.
type Options struct {
	// Exclude lists table names never shown to the model or accepted by the
	// validator, in addition to the adapter's system tables.
	Exclude []string
	Logger  *slog.Logger
}

// Build introspects conn and normalizes the result: names are folded to
// lower case on case-insensitive engines, system and excluded tables are
// removed, duplicate table names keep the first occurrence (names differing
// only in case are duplicates only on folding engines), and foreign keys to
// tables not in the result are dropped. An empty database yields an
// empty schema.
func Build(ctx context.Context, conn connector.Connector, opts Options) (*model.Schema, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := conn.IntrospectSchema(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindIntrospection,
			"could not read schema: "+connector.MaskDSN(err.Error()))
	}
	if raw == nil {
		return nil, apperr.New(apperr.KindIntrospection, "could not read schema: no tables reported")
	}

	fold := conn.CaseInsensitive() || raw.CaseInsensitive
	norm := func(s string) string {
		if fold {
			return strings.ToLower(s)
		}
		return s
	}

	excluded := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		excluded[strings.ToLower(name)] = true
	}

	schema := &model.Schema{
		Tables:          make([]model.Table, 0, len(raw.Tables)),
		Driver:          conn.DriverName(),
		Namespace:       raw.Namespace,
		CaseInsensitive: fold,
	}
	// key -> name as kept. Folding engines key by the lower-cased name;
	// elsewhere "Users" and "users" are distinct tables.
	seen := make(map[string]string, len(raw.Tables))
	// lower-cased name -> first kept name, for foreign keys whose case
	// differs from the table's
	loose := make(map[string]string, len(raw.Tables))

	for _, t := range raw.Tables {
		name := norm(t.Name)
		if name == "" || conn.IsSystemTable(t.Name) || excluded[strings.ToLower(name)] {
			continue
		}
		if _, dup := seen[name]; dup {
			logger.Warn("duplicate table dropped", "table", name, "driver", conn.DriverName())
			continue
		}
		seen[name] = name
		if _, ok := loose[strings.ToLower(name)]; !ok {
			loose[strings.ToLower(name)] = name
		}
		schema.Tables = append(schema.Tables, normalizeTable(t, name, norm))
	}

	for i := range schema.Tables {
		t := &schema.Tables[i]
		kept := t.ForeignKeys[:0]
		for _, fk := range t.ForeignKeys {
			ref, ok := seen[fk.ReferencedTable]
			if !ok {
				ref, ok = loose[strings.ToLower(fk.ReferencedTable)]
			}
			if !ok {
				logger.Warn("foreign key to unknown table dropped",
					"table", t.Name,
					"column", fk.Column,
					"referenced_table", fk.ReferencedTable,
				)
				continue
			}
			fk.ReferencedTable = ref
			kept = append(kept, fk)
		}
		t.ForeignKeys = kept
	}

	logger.Debug("schema catalog built",
		"driver", conn.DriverName(),
		"tables", len(schema.Tables),
		"case_insensitive", fold,
	)
	return schema, nil
}

// normalizeTable copies t so the adapter's slices are never shared with the
// returned schema.
func normalizeTable(t model.Table, name string, norm func(string) string) model.Table {
	out := model.Table{
		Name:           name,
		Columns:        make([]model.Column, 0, len(t.Columns)),
		ForeignKeys:    make([]model.ForeignKey, 0, len(t.ForeignKeys)),
		SchemaInferred: t.SchemaInferred,
	}

	cols := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		c.Name = norm(c.Name)
		if cols[c.Name] {
			continue
		}
		cols[c.Name] = true
		if !c.Type.Valid() {
			c.Type = model.TypeOther
		}
		if c.IsPrimaryKey {
			c.IsNullable = false
		}
		out.Columns = append(out.Columns, c)
	}

	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, model.ForeignKey{
			Column:           norm(fk.Column),
			ReferencedTable:  norm(fk.ReferencedTable),
			ReferencedColumn: norm(fk.ReferencedColumn),
		})
	}
	return out
}
