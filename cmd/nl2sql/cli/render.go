package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/saks635/NL2SQL-Convertor/internal/catalog"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

const maxCellWidth = 60

// renderResult prints rows as an aligned table followed by a row count.
func renderResult(w io.Writer, result *model.ExecutionResult) {
	if len(result.Headers) == 0 {
		fmt.Fprintf(w, "OK (%d rows affected)\n", result.RowCount)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(result.Headers, "\t"))
	rule := make([]string, len(result.Headers))
	for i, h := range result.Headers {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(rule, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	suffix := ""
	if result.Truncated {
		suffix = ", truncated"
	}
	fmt.Fprintf(w, "(%d rows%s)\n", result.RowCount, suffix)
}

// formatCell renders one value on a single line.
func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprint(v)
	s = strings.NewReplacer("\n", " ", "\t", " ", "\r", "").Replace(s)
	if r := []rune(s); len(r) > maxCellWidth {
		s = string(r[:maxCellWidth-1]) + "…"
	}
	return s
}

// renderSchema prints each table with its columns and foreign keys.
func renderSchema(w io.Writer, schema *model.Schema) {
	if len(schema.Tables) == 0 {
		fmt.Fprintln(w, "No tables found.")
		return
	}
	for i, t := range schema.Tables {
		if i > 0 {
			fmt.Fprintln(w)
		}
		name := t.Name
		if t.SchemaInferred {
			name += " (inferred from sample)"
		}
		fmt.Fprintln(w, name)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range t.Columns {
			var flags []string
			if c.IsPrimaryKey {
				flags = append(flags, "PK")
			}
			if !c.IsNullable {
				flags = append(flags, "NOT NULL")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Name, c.Type, c.NativeType, strings.Join(flags, " "))
		}
		tw.Flush()
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(w, "  %s -> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
	}
}

// renderReport prints the normal-form verdicts, recommendations and any
// per-table counts and samples.
func renderReport(w io.Writer, report *pipeline.Report) {
	a := report.Analysis
	fmt.Fprintf(w, "%d tables, %d relationships\n", a.Tables, a.Relationships)
	for _, nf := range []struct {
		label string
		form  catalog.NormalForm
	}{
		{"1NF", a.FirstNormalForm},
		{"2NF", a.SecondNormalForm},
		{"3NF", a.ThirdNormalForm},
	} {
		if nf.form.Compliant {
			fmt.Fprintf(w, "%s  ok\n", nf.label)
			continue
		}
		fmt.Fprintf(w, "%s  %d issue(s)\n", nf.label, len(nf.form.Violations))
		for _, v := range nf.form.Violations {
			where := v.Table
			if len(v.Columns) > 0 {
				where += "." + strings.Join(v.Columns, ", ")
			}
			fmt.Fprintf(w, "  %s: %s\n", where, v.Issue)
		}
	}
	for _, r := range a.Recommendations {
		fmt.Fprintf(w, "- %s\n", r)
	}

	for _, st := range report.Tables {
		fmt.Fprintln(w)
		switch {
		case st.Error != "":
			fmt.Fprintf(w, "%s: %s\n", st.Table, st.Error)
		case st.RowCount != nil:
			fmt.Fprintf(w, "%s (%d rows)\n", st.Table, *st.RowCount)
		default:
			fmt.Fprintln(w, st.Table)
		}
		if st.Sample != nil {
			renderResult(w, st.Sample)
		}
	}
}
