// Package prompt renders the instruction text sent to a model provider.
// Output depends only on its inputs, so equal requests produce equal
// prompts.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// DefaultMaxSchemaChars bounds the schema block when Options leaves it unset.
const DefaultMaxSchemaChars = 12000

// Options tune Compose.
type Options struct {
	// Driver selects the dialect line ("sqlite", "mysql", ...).
	Driver         string
	MaxSchemaChars int
}

// Prompt is a composed prompt and what was left out of it.
type Prompt struct {
	Text string

	// Omitted names the tables dropped to fit the schema budget, in the order
	// they were dropped.
	Omitted []string
}

// Dialect returns the dialect name used in the prompt for a driver.
func Dialect(driver string) string {
	switch driver {
	case "sqlite":
		return "SQLite"
	case "mysql":
		return "MySQL"
	case "postgres":
		return "PostgreSQL"
	case "mssql":
		return "Microsoft SQL Server (T-SQL)"
	case "duckdb":
		return "DuckDB"
	case "snowflake":
		return "Snowflake"
	case "mongo":
		return "MongoDB collections queried through a SQL subset"
	default:
		return "standard SQL"
	}
}

// Compose renders the prompt for question over schema. When the schema
// block exceeds the budget, whole tables are dropped: least-referenced
// first, then most columns, then by name descending.
func Compose(question string, schema *model.Schema, opts Options) Prompt {
	budget := opts.MaxSchemaChars
	if budget <= 0 {
		budget = DefaultMaxSchemaChars
	}
	var tables []model.Table
	if schema != nil {
		tables = schema.Tables
	}

	blocks := make([]string, len(tables))
	total := 0
	for i, t := range tables {
		blocks[i] = renderTable(t)
		total += len(blocks[i])
	}

	dropped := make([]bool, len(tables))
	var omitted []string
	if total > budget {
		for _, i := range dropOrder(tables) {
			if total <= budget {
				break
			}
			dropped[i] = true
			total -= len(blocks[i])
			omitted = append(omitted, tables[i].Name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You write SQL for a %s database.\n\n", Dialect(opts.Driver))
	sb.WriteString("Schema:\n---\n")
	kept := 0
	for i, block := range blocks {
		if !dropped[i] {
			sb.WriteString(block)
			kept++
		}
	}
	if kept == 0 {
		sb.WriteString("(no tables)\n")
	}
	sb.WriteString("---\n")
	if len(omitted) > 0 {
		fmt.Fprintf(&sb, "Note: %d tables were omitted for length: %s\n", len(omitted), strings.Join(omitted, ", "))
	}
	if opts.Driver == "mongo" {
		sb.WriteString("Supported syntax: SELECT columns | * | COUNT(*) FROM collection " +
			"[WHERE condition {AND condition}] [ORDER BY column [ASC|DESC], ...] [LIMIT n]. " +
			"No joins, grouping, OR, or functions.\n")
	}
	fmt.Fprintf(&sb, "\nQuestion: %s\n\n", question)
	sb.WriteString("Answer with exactly one read-only SQL statement (SELECT or WITH) that uses only " +
		"the tables and columns listed above. Output the statement and nothing else: " +
		"no explanation, no comments, no markdown.\n")

	return Prompt{Text: sb.String(), Omitted: omitted}
}

func renderTable(t model.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TABLE %s", t.Name)
	if t.SchemaInferred {
		sb.WriteString(" (columns inferred from sampled documents)")
	}
	sb.WriteString("\n")

	fks := make(map[string]model.ForeignKey, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		fks[fk.Column] = fk
	}
	for _, c := range t.Columns {
		fmt.Fprintf(&sb, "  - %s %s", c.Name, c.Type)
		if c.IsPrimaryKey {
			sb.WriteString(" PK")
		} else if !c.IsNullable {
			sb.WriteString(" NOT NULL")
		}
		if fk, ok := fks[c.Name]; ok {
			fmt.Fprintf(&sb, " FK -> %s.%s", fk.ReferencedTable, fk.ReferencedColumn)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// dropOrder returns table indexes in the order they are dropped when over
// budget: (reference count asc, column count desc, name desc).
func dropOrder(tables []model.Table) []int {
	refs := make(map[string]int, len(tables))
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if strings.EqualFold(fk.ReferencedTable, t.Name) {
				continue // self reference
			}
			refs[strings.ToLower(t.Name)]++
			refs[strings.ToLower(fk.ReferencedTable)]++
		}
	}

	order := make([]int, len(tables))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := tables[order[a]], tables[order[b]]
		ra, rb := refs[strings.ToLower(ta.Name)], refs[strings.ToLower(tb.Name)]
		if ra != rb {
			return ra < rb
		}
		if len(ta.Columns) != len(tb.Columns) {
			return len(ta.Columns) > len(tb.Columns)
		}
		return ta.Name > tb.Name
	})
	return order
}
