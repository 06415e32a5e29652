package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"github.com/saks635/NL2SQL-Convertor/internal/catalog"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/executor"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/sqlguard"
)

// MaxSampleRows caps AnalyzeOptions.SampleRows.
const MaxSampleRows = 100

// AnalyzeOptions tune AnalyzeSchema. Zero Timeout takes the settings.
type AnalyzeOptions struct {
	RowCounts  bool
	SampleRows int
	Timeout    time.Duration
}

// TableStats holds the row count and sample rows of one table. RowCount is
// nil when counting was not asked for or failed; Error says why it failed.
type TableStats struct {
	Table    string                 `json:"table_name"`
	RowCount *int64                 `json:"row_count"`
	Sample   *model.ExecutionResult `json:"sample,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Report is the outcome of AnalyzeSchema.
type Report struct {
	Schema   *model.Schema     `json:"schema"`
	Analysis *catalog.Analysis `json:"normalization_analysis"`
	Tables   []TableStats      `json:"tables,omitempty"`
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AnalyzeSchema builds the schema of spec, checks it for normal-form
// problems and, when asked, counts and samples each table. A table that
// cannot be counted is reported with its error; the rest still run.
func (p *Pipeline) AnalyzeSchema(ctx context.Context, spec connector.ConnectionSpec, opts AnalyzeOptions) (*Report, error) {
	t := newTracker(ctx, p.logger)
	if opts.SampleRows > MaxSampleRows {
		opts.SampleRows = MaxSampleRows
	}
	if opts.Timeout <= 0 {
		opts.Timeout = p.settings.ExecutionTimeout
	}

	report, err := withConn(ctx, p, spec, func(conn connector.Connector) (*Report, error) {
		schema, err := p.buildSchema(ctx, t, conn)
		if err != nil {
			return nil, err
		}
		report := &Report{Schema: schema, Analysis: catalog.Analyze(schema)}
		if !opts.RowCounts && opts.SampleRows <= 0 {
			return report, nil
		}

		for _, tbl := range schema.Tables {
			stats := TableStats{Table: tbl.Name}
			ident := tableIdent(conn, schema, tbl.Name)
			if opts.RowCounts {
				res, err := p.runInternal(ctx, conn, schema, "SELECT COUNT(*) FROM "+ident, 1, opts.Timeout)
				switch {
				case err == nil:
					if n, ok := countOf(res); ok {
						stats.RowCount = &n
					}
				case ctx.Err() != nil:
					return nil, err
				default:
					stats.Error = err.Error()
					p.logger.Warn("row count failed", "request_id", t.id, "table", tbl.Name, "error", err)
				}
			}
			if opts.SampleRows > 0 && stats.Error == "" {
				res, err := p.runInternal(ctx, conn, schema, "SELECT * FROM "+ident, opts.SampleRows, opts.Timeout)
				if err != nil {
					if ctx.Err() != nil {
						return nil, err
					}
					stats.Error = err.Error()
					p.logger.Warn("sampling failed", "request_id", t.id, "table", tbl.Name, "error", err)
				}
				stats.Sample = res
			}
			report.Tables = append(report.Tables, stats)
		}
		t.advance(StageExecuted)
		return report, nil
	})
	if err != nil {
		return nil, t.finish(err)
	}
	return report, t.finish(nil)
}

// runInternal validates and runs a statement the pipeline wrote itself.
// It goes through the validator like any other statement.
func (p *Pipeline) runInternal(ctx context.Context, conn connector.Connector, schema *model.Schema, text string, rowLimit int, timeout time.Duration) (*model.ExecutionResult, error) {
	stmt, err := sqlguard.Validate(model.CandidateStatement{Text: text, Confident: true}, schema,
		sqlguard.Options{Driver: schema.Driver})
	if err != nil {
		return nil, err
	}
	return executor.Run(ctx, conn, *stmt, executor.Options{RowLimit: rowLimit, Timeout: timeout})
}

// tableIdent renders name for a statement. Folded names only match the
// stored table when left unquoted.
func tableIdent(conn connector.Connector, schema *model.Schema, name string) string {
	if schema.CaseInsensitive && plainIdent.MatchString(name) {
		return name
	}
	return conn.QuoteIdentifier(name)
}

func countOf(res *model.ExecutionResult) (int64, bool) {
	if res == nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0, false
	}
	switch v := res.Rows[0][0].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}
