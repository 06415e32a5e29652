package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/sqlite"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/sqlguard"
)

type fakeProvider struct {
	completion string
	prompts    []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.completion, nil
}

func createShop(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total REAL)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'Paris'), (2, 'Bo', 'Oslo'), (3, 'Cy', 'Paris')`,
		`INSERT INTO orders (id, customer_id, total) VALUES (1, 1, 10.5), (2, 3, 99)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

type fixture struct {
	pipeline *Pipeline
	provider *fakeProvider
	spec     connector.ConnectionSpec
	logs     *bytes.Buffer
}

func setup(t *testing.T, completion string) *fixture {
	t.Helper()
	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := &fakeProvider{completion: completion}
	settings := DefaultSettings()
	settings.Provider = "fake"

	return &fixture{
		pipeline: New(registry, llm.NewSetOf(provider), settings, logger),
		provider: provider,
		spec:     connector.ConnectionSpec{Driver: "sqlite", Path: createShop(t)},
		logs:     &logs,
	}
}

func TestGetSchema(t *testing.T) {
	f := setup(t, "")
	schema, err := f.pipeline.GetSchema(context.Background(), f.spec)
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if got := schema.TableNames(); len(got) != 2 {
		t.Fatalf("tables = %v, want customers and orders", got)
	}
	for _, tbl := range schema.Tables {
		if len(tbl.Columns) == 0 {
			t.Errorf("table %s has no columns", tbl.Name)
		}
	}
	if schema.Driver != "sqlite" {
		t.Errorf("Driver = %q", schema.Driver)
	}
	if !strings.Contains(f.logs.String(), "to=schema_built") {
		t.Errorf("schema stage not logged:\n%s", f.logs.String())
	}
}

func TestGetSchemaConnectionError(t *testing.T) {
	f := setup(t, "")
	_, err := f.pipeline.GetSchema(context.Background(),
		connector.ConnectionSpec{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "missing.db")})
	if !apperr.IsKind(err, apperr.KindConnection) {
		t.Fatalf("err = %v, want connection_error", err)
	}
}

func TestAskCustomers(t *testing.T) {
	f := setup(t, "Sure:\n```sql\nSELECT name FROM customers WHERE city = 'Paris' ORDER BY name\n```")
	ctx := WithRequestID(context.Background(), "req-1")

	answer, err := f.pipeline.Ask(ctx, f.spec, "Which customers live in Paris?", "", true)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.RequestID != "req-1" {
		t.Errorf("RequestID = %q", answer.RequestID)
	}
	if answer.Generation.Statement == nil || answer.Generation.Provider != "fake" {
		t.Fatalf("generation = %+v", answer.Generation)
	}
	res := answer.Result
	if res == nil || res.RowCount != 2 || res.Truncated {
		t.Fatalf("result = %+v", res)
	}
	if res.Rows[0][0] != "Ada" || res.Rows[1][0] != "Cy" {
		t.Errorf("rows = %v", res.Rows)
	}

	if len(f.provider.prompts) != 1 {
		t.Fatalf("provider called %d times", len(f.provider.prompts))
	}
	p := f.provider.prompts[0]
	for _, want := range []string{"SQLite", "TABLE customers", "Which customers live in Paris?"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	logs := f.logs.String()
	stages := []string{"to=schema_built", "to=prompt_composed", "to=synthesized", "to=validated", "to=executed", "to=done"}
	last := -1
	for _, s := range stages {
		i := strings.Index(logs, s)
		if i < 0 || i < last {
			t.Errorf("stage %s missing or out of order:\n%s", s, logs)
		}
		last = i
	}
	if !strings.Contains(logs, "request_id=req-1") {
		t.Error("stage logs lack the request id")
	}
}

func TestAskWithoutExecute(t *testing.T) {
	f := setup(t, "SELECT COUNT(*) FROM orders;")
	answer, err := f.pipeline.Ask(context.Background(), f.spec, "how many orders?", "", false)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Result != nil {
		t.Errorf("result = %+v, want none", answer.Result)
	}
	if got := answer.Generation.Statement.Text; got != "SELECT COUNT(*) FROM orders" {
		t.Errorf("statement = %q", got)
	}
}

func TestAskDropTableRejected(t *testing.T) {
	f := setup(t, "DROP TABLE customers;")
	answer, err := f.pipeline.Ask(context.Background(), f.spec, "remove all customers", "", true)
	if !apperr.IsKind(err, apperr.KindUnsafeStatement) {
		t.Fatalf("err = %v, want unsafe_statement", err)
	}
	if rule := apperr.RuleOf(err); rule != sqlguard.RuleMutation {
		t.Errorf("rule = %q, want %q", rule, sqlguard.RuleMutation)
	}
	if answer.Generation == nil || answer.Generation.Candidate.Text != "DROP TABLE customers" {
		t.Errorf("generation = %+v", answer.Generation)
	}
	if answer.Result != nil {
		t.Error("rejected statement produced a result")
	}
	if Outcome(err) != StageRejected {
		t.Errorf("Outcome = %s", Outcome(err))
	}

	schema, err := f.pipeline.GetSchema(context.Background(), f.spec)
	if err != nil || !schema.HasTable("customers") {
		t.Errorf("customers table gone: %v", err)
	}
}

func TestAskEmptyCompletion(t *testing.T) {
	f := setup(t, "")
	answer, err := f.pipeline.Ask(context.Background(), f.spec, "anything", "", true)
	if !apperr.IsKind(err, apperr.KindSynthesis) {
		t.Fatalf("err = %v, want synthesis_error", err)
	}
	if !strings.Contains(err.Error(), "no statement found") {
		t.Errorf("err = %v", err)
	}
	if answer.Generation != nil {
		t.Errorf("generation = %+v, want none", answer.Generation)
	}
	logs := f.logs.String()
	if strings.Contains(logs, "to=validated") || strings.Contains(logs, "to=rejected") {
		t.Errorf("validator reached after empty completion:\n%s", logs)
	}
	if !strings.Contains(logs, "to=failed") {
		t.Errorf("failure not logged:\n%s", logs)
	}
}

func TestGenerateStatement(t *testing.T) {
	f := setup(t, "SELECT * FROM customers")
	schema, err := f.pipeline.GetSchema(context.Background(), f.spec)
	if err != nil {
		t.Fatal(err)
	}

	gen, err := f.pipeline.GenerateStatement(context.Background(), "all customers", schema, "")
	if err != nil {
		t.Fatalf("GenerateStatement: %v", err)
	}
	if !gen.Candidate.Confident || gen.Statement.Tables[0] != "customers" {
		t.Errorf("generation = %+v", gen)
	}

	tests := []struct {
		name     string
		question string
		provider string
		kind     apperr.Kind
	}{
		{"blank question", "   ", "", apperr.KindInvalidRequest},
		{"unknown provider", "q", "nope", apperr.KindSynthesis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.GenerateStatement(context.Background(), tt.question, schema, tt.provider)
			if !apperr.IsKind(err, tt.kind) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestExecuteStatement(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()

	res, err := f.pipeline.ExecuteStatement(ctx, f.spec, "SELECT id FROM customers ORDER BY id", 2, 0)
	if err != nil {
		t.Fatalf("ExecuteStatement: %v", err)
	}
	if res.RowCount != 2 || !res.Truncated {
		t.Errorf("row_count = %d truncated = %v, want 2 true", res.RowCount, res.Truncated)
	}

	rejects := []struct {
		sql  string
		rule string
	}{
		{"SELECT * FROM secrets", sqlguard.RuleUnknownTable},
		{"SELECT 1; SELECT 2", sqlguard.RuleMultiple},
		{"DELETE FROM orders", sqlguard.RuleMutation},
		{"", sqlguard.RuleEmpty},
	}
	for _, tt := range rejects {
		t.Run(tt.rule, func(t *testing.T) {
			_, err := f.pipeline.ExecuteStatement(ctx, f.spec, tt.sql, 0, 0)
			if rule := apperr.RuleOf(err); rule != tt.rule {
				t.Errorf("ExecuteStatement(%q) err = %v, want rule %s", tt.sql, err, tt.rule)
			}
		})
	}
}

func TestTrackerRefusesBackwardMoves(t *testing.T) {
	var logs bytes.Buffer
	tr := newTracker(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))
	if !tr.advance(StageSchemaBuilt) || !tr.advance(StageValidated) {
		t.Fatal("forward moves refused")
	}
	if tr.advance(StagePromptComposed) {
		t.Error("backward move accepted")
	}
	// Validated and Rejected are alternative outcomes of one step.
	if tr.advance(StageRejected) {
		t.Error("Validated -> Rejected accepted")
	}
	if tr.finish(nil) != nil || tr.stage != StageDone {
		t.Errorf("stage = %s", tr.stage)
	}
	if tr.advance(StageFailed) {
		t.Error("move out of Done accepted")
	}
	if !strings.Contains(logs.String(), "illegal stage transition") {
		t.Error("illegal transition not logged")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want Stage
	}{
		{nil, StageDone},
		{apperr.Unsafe(sqlguard.RuleKind, "x"), StageRejected},
		{apperr.New(apperr.KindExecution, "x"), StageFailed},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestAskWithRowLimit(t *testing.T) {
	f := setup(t, "SELECT name FROM customers ORDER BY id")
	answer, err := f.pipeline.AskWith(context.Background(), f.spec, "names", AskOptions{Execute: true, RowLimit: 1})
	if err != nil {
		t.Fatalf("AskWith: %v", err)
	}
	if answer.Result.RowCount != 1 || !answer.Result.Truncated {
		t.Errorf("result = %+v, want 1 truncated row", answer.Result)
	}
}

func TestExecuteStatementExcludedTable(t *testing.T) {
	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	settings := DefaultSettings()
	settings.Provider = "fake"
	settings.Exclude = []string{"orders"}
	p := New(registry, llm.NewSetOf(&fakeProvider{}), settings, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	spec := connector.ConnectionSpec{Driver: "sqlite", Path: createShop(t)}

	for _, sql := range []string{"SELECT * FROM orders", "SELECT * FROM 'orders'", `SELECT * FROM "orders"`} {
		res, err := p.ExecuteStatement(context.Background(), spec, sql, 0, 0)
		if rule := apperr.RuleOf(err); rule != sqlguard.RuleUnknownTable {
			t.Errorf("ExecuteStatement(%q) = %+v, %v; want rule %s", sql, res, err, sqlguard.RuleUnknownTable)
		}
	}
}

func TestAnalyzeSchema(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()

	report, err := f.pipeline.AnalyzeSchema(ctx, f.spec, AnalyzeOptions{RowCounts: true, SampleRows: 2})
	if err != nil {
		t.Fatalf("AnalyzeSchema: %v", err)
	}
	if report.Analysis.Tables != 2 || report.Analysis.Relationships != 1 {
		t.Errorf("analysis counts = %d tables, %d relationships", report.Analysis.Tables, report.Analysis.Relationships)
	}

	wantCounts := map[string]int64{"customers": 3, "orders": 2}
	if len(report.Tables) != len(wantCounts) {
		t.Fatalf("stats for %d tables, want %d", len(report.Tables), len(wantCounts))
	}
	for _, st := range report.Tables {
		if st.Error != "" {
			t.Errorf("%s: %s", st.Table, st.Error)
			continue
		}
		if st.RowCount == nil || *st.RowCount != wantCounts[st.Table] {
			t.Errorf("%s row_count = %v, want %d", st.Table, st.RowCount, wantCounts[st.Table])
		}
		if st.Sample == nil || st.Sample.RowCount != 2 {
			t.Errorf("%s sample = %+v, want 2 rows", st.Table, st.Sample)
		}
	}

	plain, err := f.pipeline.AnalyzeSchema(ctx, f.spec, AnalyzeOptions{})
	if err != nil {
		t.Fatalf("AnalyzeSchema without stats: %v", err)
	}
	if plain.Tables != nil || plain.Analysis == nil {
		t.Errorf("report = %+v, want analysis only", plain)
	}
}

func TestAnalyzeSchemaConnectionError(t *testing.T) {
	f := setup(t, "")
	_, err := f.pipeline.AnalyzeSchema(context.Background(),
		connector.ConnectionSpec{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "missing.db")}, AnalyzeOptions{RowCounts: true})
	if !apperr.IsKind(err, apperr.KindConnection) {
		t.Fatalf("err = %v, want connection_error", err)
	}
}

func TestCountOf(t *testing.T) {
	tests := []struct {
		cell any
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{float64(3), 3, true},
		{"42", 42, true},
		{"n/a", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := countOf(&model.ExecutionResult{Rows: [][]any{{tt.cell}}})
		if got != tt.want || ok != tt.ok {
			t.Errorf("countOf(%v) = %d, %v; want %d, %v", tt.cell, got, ok, tt.want, tt.ok)
		}
	}
	if _, ok := countOf(&model.ExecutionResult{}); ok {
		t.Error("countOf on empty result reported a count")
	}
}
