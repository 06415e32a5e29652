package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

const maxRowLimit = 1000

// registerTools registers the NL2SQL tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("nl2sql_list_sources",
			mcp.WithDescription(
				"List the saved database sources. Returns each source's name, driver "+
					"and whether it accepts data-modifying statements. Use this first to "+
					"discover which databases can be queried.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListSources,
	)

	srv.AddTool(
		mcp.NewTool("nl2sql_get_schema",
			mcp.WithDescription(
				"Get the schema of a saved source: every table with its columns, "+
					"normalized types, primary keys and foreign keys. Collections of "+
					"document stores are described with sampled, inferred columns.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("source",
				mcp.Required(),
				mcp.Description("Name of the saved source"),
			),
		),
		s.handleGetSchema,
	)

	srv.AddTool(
		mcp.NewTool("nl2sql_analyze_schema",
			mcp.WithDescription(
				"Check the schema of a saved source for likely first, second and third "+
					"normal form problems (missing keys, non-atomic or repeating columns, "+
					"partial and transitive dependencies). Optionally counts the rows "+
					"of each table and returns a few sample rows.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("source",
				mcp.Required(),
				mcp.Description("Name of the saved source"),
			),
			mcp.WithBoolean("row_counts",
				mcp.Description("Count the rows of every table"),
			),
			mcp.WithNumber("sample_rows",
				mcp.Description("Sample rows to return per table (default 0, max 100)"),
			),
		),
		s.handleAnalyzeSchema,
	)

	// ----- Generation -----

	srv.AddTool(
		mcp.NewTool("nl2sql_generate_sql",
			mcp.WithDescription(
				"Translate a natural-language question into one SQL statement for a "+
					"saved source. The statement is checked against the source's schema "+
					"and rejected if it is unsafe, but it is not executed. Pass the "+
					"returned sql to nl2sql_execute_sql to run it.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("source",
				mcp.Required(),
				mcp.Description("Name of the saved source"),
			),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to answer, in plain language"),
			),
			mcp.WithString("provider",
				mcp.Description("Model provider (gemini or cohere). Defaults to the configured provider."),
			),
		),
		s.handleGenerateSQL,
	)

	// ----- Execution -----

	srv.AddTool(
		mcp.NewTool("nl2sql_execute_sql",
			mcp.WithDescription(
				"Validate and run one SQL statement against a saved source. Only "+
					"read-only statements on known tables are accepted unless the source "+
					"allows mutations. Returns column headers and at most row_limit rows; "+
					"truncated is true when more rows existed.",
			),
			mcp.WithToolAnnotation(executeAnnotation()),
			mcp.WithString("source",
				mcp.Required(),
				mcp.Description("Name of the saved source"),
			),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description("A single SQL statement"),
			),
			mcp.WithNumber("row_limit",
				mcp.Description("Maximum rows to return (default from settings, max 1000)"),
			),
			mcp.WithNumber("timeout_ms",
				mcp.Description("Execution timeout in milliseconds (default from settings)"),
			),
		),
		s.handleExecuteSQL,
	)
}

// sourceInfo is what agents see of a saved source.
type sourceInfo struct {
	Name           string `json:"name"`
	Label          string `json:"label,omitempty"`
	Driver         string `json:"driver"`
	AllowMutations bool   `json:"allow_mutations"`
}

func (s *MCPServer) sourceInfos(ctx context.Context) ([]sourceInfo, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	settings := s.pipeline.Settings()
	items := make([]sourceInfo, len(sources))
	for i, src := range sources {
		items[i] = sourceInfo{
			Name:           src.Name,
			Label:          src.Label,
			Driver:         src.Driver,
			AllowMutations: src.AllowMutations || settings.AllowMutations,
		}
	}
	return items, nil
}

func (s *MCPServer) sourceNames(ctx context.Context) []string {
	items, _ := s.sourceInfos(ctx)
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	return names
}

// lookup resolves a source name, returning a tool error listing the known
// sources when it does not exist.
func (s *MCPServer) lookup(ctx context.Context, request mcp.CallToolRequest) (*model.Source, *mcp.CallToolResult) {
	name, err := requireString(request, "source")
	if err != nil {
		res, _ := toolError("%v. Available sources: %v", err, s.sourceNames(ctx))
		return nil, res
	}
	src, err := s.store.GetSource(ctx, name)
	if errors.Is(err, config.ErrNotFound) {
		res, _ := toolError("Source %q not found. Available sources: %v", name, s.sourceNames(ctx))
		return nil, res
	}
	if err != nil {
		res, _ := toolError("could not load source %q", name)
		return nil, res
	}
	return src, nil
}

// handleListSources returns every saved source.
func (s *MCPServer) handleListSources(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	items, err := s.sourceInfos(ctx)
	if err != nil {
		return toolError("failed to list sources: %v", err)
	}
	return successJSON(map[string]any{
		"sources": items,
		"drivers": s.pipeline.Registry().Drivers(),
	})
}

// handleGetSchema returns the canonical schema of a source.
func (s *MCPServer) handleGetSchema(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	src, res := s.lookup(ctx, request)
	if res != nil {
		return res, nil
	}

	ctx, rec, start := s.begin(ctx, src)
	schema, err := s.pipeline.GetSchema(ctx, connector.SpecFromSource(*src))
	s.record(ctx, rec, err, start)
	if err != nil {
		return pipelineError(err)
	}
	return successJSON(schemaView(src.Name, schema))
}

// handleAnalyzeSchema reports normal-form findings and table statistics.
func (s *MCPServer) handleAnalyzeSchema(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	src, res := s.lookup(ctx, request)
	if res != nil {
		return res, nil
	}
	opts := pipeline.AnalyzeOptions{
		RowCounts:  request.GetBool("row_counts", false),
		SampleRows: clamp(optionalInt(request, "sample_rows", 0), 0, pipeline.MaxSampleRows),
	}

	ctx, rec, start := s.begin(ctx, src)
	report, err := s.pipeline.AnalyzeSchema(ctx, connector.SpecFromSource(*src), opts)
	s.record(ctx, rec, err, start)
	if err != nil {
		return pipelineError(err)
	}
	return successJSON(map[string]any{
		"source":                 src.Name,
		"driver":                 report.Schema.Driver,
		"normalization_analysis": report.Analysis,
		"tables":                 report.Tables,
	})
}

// schemaView is the JSON shape of a schema shown to agents.
func schemaView(source string, schema *model.Schema) map[string]any {
	return map[string]any{
		"source": source,
		"driver": schema.Driver,
		"tables": schema.Tables,
	}
}

// handleGenerateSQL turns a question into a validated statement.
func (s *MCPServer) handleGenerateSQL(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	src, res := s.lookup(ctx, request)
	if res != nil {
		return res, nil
	}
	question, err := requireString(request, "question")
	if err != nil {
		return toolError("%v", err)
	}
	provider := optionalString(request, "provider")

	ctx, rec, start := s.begin(ctx, src)
	rec.Question = question
	rec.Provider = provider
	if rec.Provider == "" {
		rec.Provider = s.pipeline.Settings().Provider
	}

	answer, err := s.pipeline.AskWith(ctx, connector.SpecFromSource(*src), question, pipeline.AskOptions{Provider: provider})
	if gen := answer.Generation; gen != nil {
		rec.Statement = gen.Candidate.Text
		if gen.Statement != nil {
			rec.Statement = gen.Statement.Text
		}
	}
	s.record(ctx, rec, err, start)
	if err != nil {
		return pipelineError(err)
	}

	gen := answer.Generation
	return successJSON(map[string]any{
		"request_id":     answer.RequestID,
		"sql":            gen.Statement.Text,
		"kind":           gen.Statement.Kind,
		"tables":         gen.Statement.Tables,
		"provider":       gen.Provider,
		"confident":      gen.Candidate.Confident,
		"omitted_tables": gen.OmittedTables,
	})
}

// handleExecuteSQL validates and runs caller-supplied SQL.
func (s *MCPServer) handleExecuteSQL(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	src, res := s.lookup(ctx, request)
	if res != nil {
		return res, nil
	}
	sql, err := requireString(request, "sql")
	if err != nil {
		return toolError("%v", err)
	}

	rowLimit := optionalInt(request, "row_limit", 0)
	if rowLimit != 0 {
		rowLimit = clamp(rowLimit, 1, maxRowLimit)
	}
	timeout := time.Duration(clamp(optionalInt(request, "timeout_ms", 0), 0, 120000)) * time.Millisecond

	ctx, rec, start := s.begin(ctx, src)
	rec.Statement = sql
	result, err := s.pipeline.ExecuteStatement(ctx, connector.SpecFromSource(*src), sql, rowLimit, timeout)
	if result != nil {
		rec.RowCount = result.RowCount
		rec.Truncated = result.Truncated
	}
	s.record(ctx, rec, err, start)
	if err != nil {
		return pipelineError(err)
	}
	return successJSON(result)
}

// begin fixes the request id of a tool call and starts its history record.
func (s *MCPServer) begin(ctx context.Context, src *model.Source) (context.Context, *model.HistoryRecord, time.Time) {
	id := pipeline.RequestID(ctx)
	ctx = pipeline.WithRequestID(ctx, id)
	return ctx, &model.HistoryRecord{ID: id, Source: src.Name, Driver: src.Driver}, time.Now()
}

func (s *MCPServer) record(ctx context.Context, rec *model.HistoryRecord, err error, start time.Time) {
	if !s.opts.RecordHistory {
		return
	}
	if werr := s.store.RecordOutcome(context.WithoutCancel(ctx), rec, err, start, s.opts.HistoryKeep); werr != nil {
		s.logger.Warn("history write failed", "request_id", rec.ID, "error", werr)
	}
}
