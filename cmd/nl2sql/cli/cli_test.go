package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func createDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	for _, s := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'Paris'), (2, 'Bo', NULL), (3, 'Cy', 'Paris')`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

// run executes the root command with a private data directory.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NL2SQL_DATA_DIR", dir)
	cmd := newRootCmd("test", "abc", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExecFile(t *testing.T) {
	dir := t.TempDir()
	path := createDB(t)

	out, err := run(t, dir, "exec", "--file", path, "SELECT name, city FROM customers ORDER BY id")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	for _, want := range []string{"name", "Ada", "NULL", "(3 rows)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	_, err = run(t, dir, "exec", "--file", path, "DELETE FROM customers")
	if err == nil || !strings.Contains(err.Error(), "mutation_statement") {
		t.Errorf("err = %v, want mutation_statement rejection", err)
	}

	out, err = run(t, dir, "history", "list", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var recs []model.HistoryRecord
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(recs) != 2 {
		t.Fatalf("history len = %d, want 2", len(recs))
	}
	if recs[0].Stage != "rejected" || recs[1].Stage != "done" {
		t.Errorf("stages = %q, %q; want rejected, done", recs[0].Stage, recs[1].Stage)
	}

	out, err = run(t, dir, "history", "show", recs[1].ID)
	if err != nil || !strings.Contains(out, recs[1].ID) {
		t.Errorf("history show: %v\n%s", err, out)
	}
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	path := createDB(t)

	out, err := run(t, dir, "analyze", "--file", path, "--counts", "--sample", "1")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"1 tables, 0 relationships", "1NF  ok", "3NF  ok", "customers (3 rows)", "(1 rows, truncated)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, dir, "analyze", "--file", path, "--json")
	if err != nil {
		t.Fatalf("analyze --json: %v", err)
	}
	var report struct {
		Analysis struct {
			Tables int `json:"tables_count"`
		} `json:"normalization_analysis"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil || report.Analysis.Tables != 1 {
		t.Errorf("json report = %+v, err %v\n%s", report, err, out)
	}
}

func TestSourceLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := createDB(t)

	if _, err := run(t, dir, "source", "add", "--name", "shop", "--driver", "sqlite", "--path", path); err != nil {
		t.Fatalf("source add: %v", err)
	}
	if _, err := run(t, dir, "source", "add", "--name", "shop", "--driver", "sqlite", "--path", path); err == nil {
		t.Error("duplicate source add should fail")
	}
	if _, err := run(t, dir, "source", "add", "--name", "bad", "--driver", "oracle", "--dsn", "x", "--skip-test"); err == nil {
		t.Error("unknown driver should fail")
	}

	out, err := run(t, dir, "source", "list")
	if err != nil || !strings.Contains(out, "shop") || !strings.Contains(out, path) {
		t.Errorf("source list: %v\n%s", err, out)
	}

	out, err = run(t, dir, "source", "test", "shop")
	if err != nil || !strings.Contains(out, "OK") {
		t.Errorf("source test: %v\n%s", err, out)
	}

	out, err = run(t, dir, "schema", "shop")
	if err != nil || !strings.Contains(out, "customers") || !strings.Contains(out, "PK") {
		t.Errorf("schema: %v\n%s", err, out)
	}

	if _, err := run(t, dir, "source", "remove", "shop"); err != nil {
		t.Fatalf("source remove: %v", err)
	}
	if _, err := run(t, dir, "source", "remove", "shop"); err == nil {
		t.Error("removing a missing source should fail")
	}
}

func TestFileDriver(t *testing.T) {
	tests := map[string]string{
		"shop.db":          "sqlite",
		"shop.sqlite":      "sqlite",
		"warehouse.DUCKDB": "duckdb",
		"lake.ddb":         "duckdb",
		"noext":            "sqlite",
	}
	for path, want := range tests {
		if got := fileDriver(path); got != want {
			t.Errorf("fileDriver(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"int", int64(42), "42"},
		{"newlines", "a\nb\tc", "a b c"},
		{"long", strings.Repeat("x", 100), strings.Repeat("x", maxCellWidth-1) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCell(tt.in); got != tt.want {
				t.Errorf("formatCell() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&buf, &model.ExecutionResult{
		Headers:   []string{"id", "name"},
		Rows:      [][]any{{int64(1), "Ada"}, {int64(2), nil}},
		RowCount:  2,
		Truncated: true,
	})
	out := buf.String()
	for _, want := range []string{"id", "----", "Ada", "NULL", "(2 rows, truncated)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderResult(&buf, &model.ExecutionResult{RowCount: 3})
	if got := buf.String(); got != "OK (3 rows affected)\n" {
		t.Errorf("mutation output = %q", got)
	}
}

func TestDescribeTarget(t *testing.T) {
	tests := []struct {
		src  model.Source
		want string
	}{
		{model.Source{Path: "/data/shop.db"}, "/data/shop.db"},
		{model.Source{DSN: "postgres://app:hunter2@db/crm"}, "postgres://app:****@db/crm"},
		{model.Source{Host: "db", Port: 3306, Database: "crm"}, "db:3306/crm"},
		{model.Source{Host: "db", Database: "crm"}, "db/crm"},
	}
	for _, tt := range tests {
		if got := describeTarget(tt.src); got != tt.want {
			t.Errorf("describeTarget(%+v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestMaskSettings(t *testing.T) {
	s := config.Default()
	s.Auth.JWTSecret = "topsecret"
	s.Sources = []config.SourceYAML{{Name: "crm", Driver: "postgres", DSN: "postgres://app:hunter2@db/crm"}}

	masked := maskSettings(s)
	if masked.Auth.JWTSecret != "********" {
		t.Errorf("secret = %q", masked.Auth.JWTSecret)
	}
	if strings.Contains(masked.Sources[0].DSN, "hunter2") {
		t.Errorf("dsn not masked: %q", masked.Sources[0].DSN)
	}
	if !strings.Contains(s.Sources[0].DSN, "hunter2") {
		t.Error("maskSettings modified its input")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("json warn logger output = %q", out)
	}

	buf.Reset()
	logger = newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, true)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("dev mode should enable debug")
	}
	logger.Info("visible")
	if !strings.Contains(buf.String(), "msg=visible") {
		t.Errorf("dev logger should be text, got %q", buf.String())
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]any
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if info["version"] != "test" || info["commit"] != "abc" {
		t.Errorf("info = %v", info)
	}
}
